/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package offer

import (
	"strconv"
	"strings"
)

// Constraints is a parsed "mesos.constraints" configuration value: a
// mapping from required attribute name to its set of acceptable values.
// An empty value set for an attribute means "present with any value".
type Constraints map[string]map[string]struct{}

// ParseConstraints parses a constraint string of the form
// "name:value,value;name2:value" (an empty value list after the colon,
// or no colon at all, means "any value").
func ParseConstraints(spec string) (Constraints, error) {
	result := Constraints{}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return result, nil
	}
	for _, clause := range strings.Split(spec, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, values, _ := strings.Cut(clause, ":")
		name = strings.TrimSpace(name)
		set := map[string]struct{}{}
		if values != "" {
			for _, v := range strings.Split(values, ",") {
				v = strings.TrimSpace(v)
				if v != "" {
					set[v] = struct{}{}
				}
			}
		}
		result[name] = set
	}
	return result, nil
}

// Matches reports whether an offer's attribute map satisfies every
// required attribute: present, and (if the required set is non-empty)
// matching by the attribute's own kind — numeric comparison for
// scalars, string-set membership for text/set attributes, and
// point-in-any-offered-range for range attributes.
func (c Constraints) Matches(attrs map[string]AttributeValue) bool {
	for name, wanted := range c {
		got, present := attrs[name]
		if !present {
			return false
		}
		if len(wanted) == 0 {
			continue
		}
		if !matchesValue(got, wanted) {
			return false
		}
	}
	return true
}

func matchesValue(got AttributeValue, wanted map[string]struct{}) bool {
	switch got.Kind {
	case KindScalar:
		for w := range wanted {
			if f, err := strconv.ParseFloat(w, 64); err == nil && f == got.Scalar {
				return true
			}
		}
		return false
	case KindText:
		_, ok := wanted[got.Text]
		return ok
	case KindSet:
		for _, v := range got.Set {
			if _, ok := wanted[v]; ok {
				return true
			}
		}
		return false
	case KindRange:
		for w := range wanted {
			point, err := strconv.ParseUint(w, 10, 64)
			if err != nil {
				continue
			}
			for _, r := range got.Ranges {
				if point >= r.Begin && point <= r.End {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}
