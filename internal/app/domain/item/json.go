package item

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// Amounts exceed the float64 range JSON clients parse numbers into, so they
// are written as decimal strings. Decoding also accepts bare integers.

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(field string, raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a decimal integer", field, text)
	}
	return v, nil
}

type itemJSON Item

func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		itemJSON
		UnitPrice string `json:"unit_price"`
	}{itemJSON(i), amountString(i.UnitPrice)})
}

func (i *Item) UnmarshalJSON(data []byte) error {
	aux := struct {
		*itemJSON
		UnitPrice json.RawMessage `json:"unit_price"`
	}{itemJSON: (*itemJSON)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := parseAmount("unit_price", aux.UnitPrice)
	if err != nil {
		return err
	}
	i.UnitPrice = price
	return nil
}

type specJSON Spec

func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		specJSON
		UnitPrice string `json:"unit_price"`
	}{specJSON(s), amountString(s.UnitPrice)})
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	aux := struct {
		*specJSON
		UnitPrice json.RawMessage `json:"unit_price"`
	}{specJSON: (*specJSON)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := parseAmount("unit_price", aux.UnitPrice)
	if err != nil {
		return err
	}
	s.UnitPrice = price
	return nil
}

type mintRecordJSON MintRecord

func (r MintRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		mintRecordJSON
		Payment string `json:"payment"`
	}{mintRecordJSON(r), amountString(r.Payment)})
}

func (r *MintRecord) UnmarshalJSON(data []byte) error {
	aux := struct {
		*mintRecordJSON
		Payment json.RawMessage `json:"payment"`
	}{mintRecordJSON: (*mintRecordJSON)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payment, err := parseAmount("payment", aux.Payment)
	if err != nil {
		return err
	}
	r.Payment = payment
	return nil
}
