package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

var (
	editSet       []string
	editSelect    string
	editCreateNew bool
)

var editCmd = &cobra.Command{
	Use:   "edit <batch-id> <item-id>",
	Short: "Correct extracted data or choose the target building",
	Long: `Correct extracted data or choose the target building of an analyzed item.

Keys address the extracted data as section.field. Facilities take a comma
separated list of codes or names.

Examples:
  floorplan edit <batch> <item> --set room.rent=92000 --set building.name="Sunny Heights"
  floorplan edit <batch> <item> --set facilities=auto_lock,delivery_box
  floorplan edit <batch> <item> --select <building-id>
  floorplan edit <batch> <item> --create-new`,
	Args: cobra.ExactArgs(2),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringArrayVar(&editSet, "set", nil, "override a field (section.field=value)")
	editCmd.Flags().StringVar(&editSelect, "select", "", "register into this existing building")
	editCmd.Flags().BoolVar(&editCreateNew, "create-new", false, "register as a new building")
	editCmd.MarkFlagsMutuallyExclusive("select", "create-new")
}

func runEdit(cmd *cobra.Command, args []string) error {
	edits, err := parseAssignments(editSet)
	if err != nil {
		return err
	}
	if len(edits) == 0 && editSelect == "" && !editCreateNew {
		return fmt.Errorf("nothing to change: use --set, --select or --create-new")
	}

	patch := client.ItemPatch{EditedData: edits, CreateNew: editCreateNew}
	if editSelect != "" {
		patch.SelectedBuildingID = &editSelect
	}

	item, err := apiClient.UpdateItem(context.Background(), args[0], args[1], patch)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	fmt.Println("Updated:")
	printItems([]*models.ImportItem{item})
	return nil
}

// parseAssignments turns section.field=value pairs into an overlay tree.
func parseAssignments(pairs []string) (models.ExtractedData, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := models.ExtractedData{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (expected section.field=value)", pair)
		}

		if key == models.SectionFacilities {
			codes := []any{}
			for c := range strings.SplitSeq(value, ",") {
				if c = strings.TrimSpace(c); c != "" {
					codes = append(codes, c)
				}
			}
			out[key] = codes
			continue
		}

		section, field, ok := strings.Cut(key, ".")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --set key %q (expected section.field)", key)
		}
		if section != models.SectionBuilding && section != models.SectionRoom {
			return nil, fmt.Errorf("unknown section %q (use building, room or facilities)", section)
		}
		sub, _ := out[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			out[section] = sub
		}
		sub[field] = strings.TrimSpace(value)
	}
	return out, nil
}
