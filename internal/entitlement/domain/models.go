package domain

import (
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
)

// Entitlement is the value a subscription's plan grants for one feature.
// It is computed on read and never stored.
type Entitlement struct {
	FeatureKey string         `json:"feature_key"`
	Value      datatypes.JSON `json:"value"`
}

var ErrValueType = errors.New("entitlement_value_type")

// Raw returns the stored JSON text.
func (e *Entitlement) Raw() string {
	if e == nil {
		return ""
	}
	return string(e.Value)
}

func (e *Entitlement) Bool() (bool, error) {
	var v bool
	if err := e.decode(&v); err != nil {
		return false, err
	}
	return v, nil
}

func (e *Entitlement) Int64() (int64, error) {
	var v int64
	if err := e.decode(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (e *Entitlement) decode(target any) error {
	if e == nil || len(e.Value) == 0 {
		return ErrValueType
	}
	if err := json.Unmarshal(e.Value, target); err != nil {
		return ErrValueType
	}
	return nil
}
