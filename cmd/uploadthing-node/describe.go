package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/schema"
)

type description struct {
	Node       *schema.NodeDescription `json:"node"`
	Credential *schema.CredentialType  `json:"credential"`
}

func newDescribeCmd(a *app) *cobra.Command {
	var validateFile string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the node description, or validate parameters against it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if validateFile == "" {
				return enc.Encode(description{
					Node:       uploadthing.Description(),
					Credential: uploadthing.Credential(),
				})
			}

			data, err := os.ReadFile(validateFile)
			if err != nil {
				return fmt.Errorf("failed to read parameters: %w", err)
			}
			var params map[string]interface{}
			if err := json.Unmarshal(data, &params); err != nil {
				return fmt.Errorf("parameters must be a JSON object: %w", err)
			}

			result := schema.NewValidator().ValidateParameters(uploadthing.Description(), params)
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("%d invalid parameter(s)", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&validateFile, "validate", "", "JSON parameters file to validate")
	return cmd
}
