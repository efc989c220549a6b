package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/stylecore/internal/state"
	"github.com/user/stylecore/internal/types"
)

func init() {
	rootCmd.AddCommand(wardrobeCmd)
	wardrobeCmd.AddCommand(wardrobeListCmd, wardrobeAddCmd, wardrobeClassifyCmd, wardrobeRemoveCmd)
}

var wardrobeCmd = &cobra.Command{
	Use:   "wardrobe",
	Short: "Manage the wardrobe catalog",
}

func openStore() (*state.Store, error) {
	cfg := loadConfig()
	return state.Open(filepath.Join(cfg.DataDir, "stylecore.db"))
}

var wardrobeListCmd = &cobra.Command{
	Use:   "list <owner>",
	Short: "List wardrobe items for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		items, err := store.SnapshotFor(context.Background(), types.OwnerID(args[0]))
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tIMAGE\tADDED")
		for _, item := range items {
			category := string(item.Category)
			if category == "" {
				category = "(unclassified)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				item.ID,
				category,
				item.ImageRef,
				item.AddedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var wardrobeAddCmd = &cobra.Command{
	Use:   "add <owner> <image-ref>",
	Short: "Add a wardrobe item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		item := &types.ClothingItem{
			OwnerID:  types.OwnerID(args[0]),
			ImageRef: args[1],
		}
		if err := store.AddItem(context.Background(), item); err != nil {
			return fmt.Errorf("add item: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Added item %s.\n", item.ID)
		return nil
	},
}

var wardrobeClassifyCmd = &cobra.Command{
	Use:   "classify <id> <category>",
	Short: "Set an item's category (once)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := types.Category(args[1])
		if !types.ValidCategories[category] {
			return fmt.Errorf("unknown category: %s", args[1])
		}

		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if err := store.SetCategory(context.Background(), types.ItemID(args[0]), category); err != nil {
			return fmt.Errorf("set category: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Item %s classified as %s.\n", args[0], category)
		return nil
	},
}

var wardrobeRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a wardrobe item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if err := store.RemoveItem(context.Background(), types.ItemID(args[0])); err != nil {
			return fmt.Errorf("remove item: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Removed item %s.\n", args[0])
		return nil
	},
}
