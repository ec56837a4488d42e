package item

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemJSONCarriesPriceAsString(t *testing.T) {
	price, _ := new(big.Int).SetString("1000000000000000000000", 10)
	raw, err := json.Marshal(Spec{DisplayName: "Helm", UnitPrice: price}.Apply(1, 3))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"unit_price":"1000000000000000000000"`)
	assert.Contains(t, string(raw), `"minted_total":3`)

	var back Item
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 0, back.UnitPrice.Cmp(price))
	assert.Equal(t, "Helm", back.DisplayName)
	assert.Equal(t, uint64(3), back.MintedTotal)
}

func TestAmountDecodingAcceptsBareIntegers(t *testing.T) {
	var rec MintRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","payment":1000000000000000000000,"quantity":2}`), &rec))
	assert.Equal(t, "1000000000000000000000", rec.Payment.String())
	assert.Equal(t, uint64(2), rec.Quantity)

	var spec Spec
	assert.Error(t, json.Unmarshal([]byte(`{"unit_price":"1.5"}`), &spec))
	require.NoError(t, json.Unmarshal([]byte(`{"unit_price":null}`), &spec))
	assert.Nil(t, spec.UnitPrice)
}

func TestNilAmountsEncodeAsZero(t *testing.T) {
	raw, err := json.Marshal(MintRecord{ID: "m1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"payment":"0"`)
}
