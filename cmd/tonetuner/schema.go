// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// SchemaCmd prints the JSON Schema of tonetuner.yaml, for editors and
// config linters.
type SchemaCmd struct {
	Compact bool   `help:"Print the schema on one line."`
	Section string `help:"Print only one top-level section, such as rate_limit or cost."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	var doc any = config.Schema()
	if c.Section != "" {
		sub, ok := config.Schema().Properties.Get(c.Section)
		if !ok {
			return fmt.Errorf("config has no section %q", c.Section)
		}
		doc = sub
	}

	enc := json.NewEncoder(cli.out())
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}
