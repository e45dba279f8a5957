package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FeatureMap stores a plan's named entitlements as a jsonb object, e.g.
// {"seats": 5, "priority_support": true}.
type FeatureMap map[string]any

// Value implements driver.Valuer.
func (f FeatureMap) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner, accepting jsonb bytes or text.
func (f *FeatureMap) Scan(value any) error {
	if value == nil {
		*f = FeatureMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*f = FeatureMap{}
			return nil
		}
		return json.Unmarshal(v, f)
	case string:
		if v == "" {
			*f = FeatureMap{}
			return nil
		}
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("unsupported feature map source %T", value)
	}
}
