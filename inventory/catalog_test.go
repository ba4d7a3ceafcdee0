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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacscan/bacnet"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog(DefaultCeiling)
	require.Len(t, c.Entries, 9)
	assert.Equal(t, 81, c.Probes())
	assert.True(t, c.Has(bacnet.ObjectTypeMultiStateValue))
	assert.False(t, c.Has(bacnet.ObjectTypeDevice))
	assert.False(t, c.Has(bacnet.ObjectTypeTrendLog))

	assert.Equal(t, []bacnet.PropertyIdentifier{
		bacnet.PropertyObjectName,
		bacnet.PropertyDescription,
		bacnet.PropertyPresentValue,
		bacnet.PropertyOutOfService,
	}, c.Properties(bacnet.ObjectTypeAnalogInput))

	assert.Contains(t, c.Properties(bacnet.ObjectTypeBinaryOutput), bacnet.PropertyUnits)
	assert.Contains(t, c.Properties(bacnet.ObjectTypeMultiStateInput), bacnet.PropertyUnits)
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]string{"ai", "analog-output", "binaryValue", "bi", "bo", "av"}, 4)
	require.NoError(t, err)
	assert.Len(t, c.Entries, 6)
	assert.Equal(t, 24, c.Probes())

	_, err = ParseCatalog([]string{"ai", "thermostat"}, 4)
	assert.Error(t, err)

	_, err = ParseCatalog([]string{"ai"}, 0)
	assert.Error(t, err)

	_, err = ParseCatalog([]string{"ai", "analogInput"}, 4)
	assert.Error(t, err)

	_, err = ParseCatalog(nil, 4)
	assert.Error(t, err)
}

func TestBuildCatalog(t *testing.T) {
	c, err := BuildCatalog([]EntrySpec{
		{Type: "ai", Ceiling: 20, Properties: []string{"objectName", "presentValue", "units"}},
		{Type: "bo"},
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, uint32(20), c.Entries[0].Ceiling)
	assert.Equal(t, uint32(3), c.Entries[1].Ceiling)
	assert.Equal(t, []bacnet.PropertyIdentifier{
		bacnet.PropertyObjectName,
		bacnet.PropertyPresentValue,
		bacnet.PropertyUnits,
	}, c.Properties(bacnet.ObjectTypeAnalogInput))
	assert.Equal(t, DefaultProperties(bacnet.ObjectTypeBinaryOutput), c.Properties(bacnet.ObjectTypeBinaryOutput))

	_, err = BuildCatalog([]EntrySpec{{Type: "ai", Properties: []string{"bogus"}}}, 3)
	assert.Error(t, err)
}
