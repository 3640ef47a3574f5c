package ai

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes any JSON scalar into a string. Objects and arrays are
// kept as compact JSON text. Models are loose about scalar types.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	*f = FlexString(compact.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// FlexStrings decodes a list of scalars, or a single scalar, into strings.
// Empty items are dropped.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] != '[' {
		var one FlexString
		if err := one.UnmarshalJSON(data); err != nil {
			return err
		}
		if one != "" {
			*f = FlexStrings{one.String()}
		} else {
			*f = nil
		}
		return nil
	}
	var items []FlexString
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(FlexStrings, 0, len(items))
	for _, it := range items {
		if it != "" {
			out = append(out, it.String())
		}
	}
	*f = out
	return nil
}
