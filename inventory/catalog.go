// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inventory

import (
	"fmt"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// DefaultCeiling is the highest instance probed per type when a device has no
// usable objectList.
const DefaultCeiling = 9

// CatalogEntry is one object type the deep scan knows how to read
type CatalogEntry struct {
	Type bacnet.ObjectType
	// Ceiling bounds the instances 1..Ceiling probed by the fallback
	Ceiling uint32
	// Properties overrides DefaultProperties for this type when set
	Properties []bacnet.PropertyIdentifier
}

// Catalog is the closed set of object types a deep scan reports
type Catalog struct {
	Entries []CatalogEntry
}

var defaultTypes = []bacnet.ObjectType{
	bacnet.ObjectTypeAnalogInput,
	bacnet.ObjectTypeAnalogOutput,
	bacnet.ObjectTypeAnalogValue,
	bacnet.ObjectTypeBinaryInput,
	bacnet.ObjectTypeBinaryOutput,
	bacnet.ObjectTypeBinaryValue,
	bacnet.ObjectTypeMultiStateInput,
	bacnet.ObjectTypeMultiStateOutput,
	bacnet.ObjectTypeMultiStateValue,
}

// DefaultCatalog returns the analog, binary and multi-state input, output and
// value types, each probed up to ceiling.
func DefaultCatalog(ceiling uint32) Catalog {
	c := Catalog{Entries: make([]CatalogEntry, 0, len(defaultTypes))}
	for _, t := range defaultTypes {
		c.Entries = append(c.Entries, CatalogEntry{Type: t, Ceiling: ceiling})
	}
	return c
}

// DefaultProperties returns the properties read for every object of a type.
// Units are only read for non-analog types.
func DefaultProperties(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	if t.IsAnalog() {
		return []bacnet.PropertyIdentifier{
			bacnet.PropertyObjectName,
			bacnet.PropertyDescription,
			bacnet.PropertyPresentValue,
			bacnet.PropertyOutOfService,
		}
	}
	return []bacnet.PropertyIdentifier{
		bacnet.PropertyObjectName,
		bacnet.PropertyDescription,
		bacnet.PropertyPresentValue,
		bacnet.PropertyUnits,
		bacnet.PropertyOutOfService,
	}
}

// Has reports whether t is in the catalog
func (c Catalog) Has(t bacnet.ObjectType) bool {
	_, ok := c.entry(t)
	return ok
}

// Properties returns the property set of t
func (c Catalog) Properties(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	if e, ok := c.entry(t); ok && len(e.Properties) > 0 {
		return e.Properties
	}
	return DefaultProperties(t)
}

// Probes returns the number of existence probes the fallback performs
func (c Catalog) Probes() int {
	n := 0
	for _, e := range c.Entries {
		n += int(e.Ceiling)
	}
	return n
}

func (c Catalog) entry(t bacnet.ObjectType) (CatalogEntry, bool) {
	for _, e := range c.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// ParseCatalog builds a catalog from object type names sharing one ceiling
func ParseCatalog(names []string, ceiling uint32) (Catalog, error) {
	specs := make([]EntrySpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, EntrySpec{Type: name})
	}
	return BuildCatalog(specs, ceiling)
}

// EntrySpec is the configuration form of a CatalogEntry
type EntrySpec struct {
	Type       string   `mapstructure:"type" yaml:"type"`
	Ceiling    uint32   `mapstructure:"ceiling" yaml:"ceiling,omitempty"`
	Properties []string `mapstructure:"properties" yaml:"properties,omitempty"`
}

// BuildCatalog validates specs. Entries without a ceiling use ceiling.
func BuildCatalog(specs []EntrySpec, ceiling uint32) (Catalog, error) {
	if len(specs) == 0 {
		return Catalog{}, fmt.Errorf("catalog: no object types")
	}

	c := Catalog{Entries: make([]CatalogEntry, 0, len(specs))}
	for _, s := range specs {
		t, ok := bacnet.ParseObjectType(s.Type)
		if !ok {
			return Catalog{}, fmt.Errorf("catalog: unknown object type %q", s.Type)
		}
		if c.Has(t) {
			return Catalog{}, fmt.Errorf("catalog: duplicate object type %s", t)
		}

		e := CatalogEntry{Type: t, Ceiling: s.Ceiling}
		if e.Ceiling == 0 {
			e.Ceiling = ceiling
		}
		if e.Ceiling == 0 || e.Ceiling > bacnet.MaxInstance {
			return Catalog{}, fmt.Errorf("catalog: %s ceiling %d out of range", t, e.Ceiling)
		}

		for _, name := range s.Properties {
			prop, ok := bacnet.ParsePropertyIdentifier(name)
			if !ok {
				return Catalog{}, fmt.Errorf("catalog: unknown property %q", name)
			}
			e.Properties = append(e.Properties, prop)
		}
		c.Entries = append(c.Entries, e)
	}
	return c, nil
}
