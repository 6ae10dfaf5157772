/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonObject and JsonArray are JSON columns. They are stored as text, so one
// model works with json or jsonb on PostgreSQL, json on MySQL and text on
// SQLite. A nil value is stored as NULL.
type (
	JsonObject map[string]interface{}
	JsonArray  []JsonObject
)

func (j JsonObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return encodeJSON(j)
}

func (j *JsonObject) Scan(src interface{}) error { return decodeJSON(j, src) }

func (j JsonArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return encodeJSON(j)
}

func (j *JsonArray) Scan(src interface{}) error { return decodeJSON(j, src) }

func encodeJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

// decodeJSON replaces *dst with the decoded column; NULL resets it to the
// zero value. dst is left unchanged on error.
func decodeJSON[T any](dst *T, src interface{}) error {
	var data []byte
	switch s := src.(type) {
	case nil:
		var zero T
		*dst = zero
		return nil
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	*dst = decoded
	return nil
}
