// Copyright 2025 The LaylaOS Authors
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

package kconfig

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// hookFunc decodes string-typed config values into kernel-core-specific
// types: "unlimited" for an rlimit field's RlimitUnlimited sentinel, and
// mount option strings into a MountFlags bitmask.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)

		switch t {
		case reflect.TypeOf(MountFlags(0)):
			return ParseMountFlags(s)
		case reflect.TypeOf(uint64(0)):
			if strings.EqualFold(s, "unlimited") {
				return RlimitUnlimited, nil
			}
			return strconv.ParseUint(s, 10, 64)
		default:
			return data, nil
		}
	}
}

// DecodeHook composes hookFunc with mapstructure's standard hooks, the
// same composition gcsfuse's cfg package uses so duration and comma-list
// strings keep working everywhere else in Config.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// DecoderConfigOption wires DecodeHook into a viper.Unmarshal call via
// viper.DecoderConfigOption, mirroring how gcsfuse's BindFlags callers wire
// cfg.DecodeHook into viper.
func DecoderConfigOption(dc *mapstructure.DecoderConfig) {
	dc.DecodeHook = DecodeHook()
	dc.ErrorUnused = false
}
