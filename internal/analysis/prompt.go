package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You read Japanese rental floor-plan sheets (間取り図) and return their data as JSON.
Reply with one JSON object and nothing else. Leave out keys you cannot read; never guess.`

const schemaPrompt = `Return this structure:
{
  "building": {"name": string, "address": string, "building_type": string, "structure": string,
               "floors": int, "built_on": "YYYY-MM or YYYY-MM-DD", "units": int,
               "latitude": float, "longitude": float},
  "room": {"room_number": string, "floor": int, "room_type": string, "area_sqm": float,
           "rent": int (yen per month), "management_fee": int, "deposit": int (yen), "key_money": int (yen),
           "orientation": string},
  "facilities": [string]
}
Convert deposit and key money given in months of rent to yen.`

// buildPrompt returns the user instruction, listing the facility codes the
// catalog understands.
func buildPrompt(facilityCodes []string) string {
	var sb strings.Builder
	sb.WriteString(schemaPrompt)
	if len(facilityCodes) > 0 {
		fmt.Fprintf(&sb, "\nUse only these facility codes: %s.", strings.Join(facilityCodes, ", "))
	}
	return sb.String()
}
