package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its code",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(serverAddress+"/rooms", "application/json", nil)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("create room: server returned %s", resp.Status)
		}
		var body struct {
			RoomID string `json:"roomId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Println(body.RoomID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
