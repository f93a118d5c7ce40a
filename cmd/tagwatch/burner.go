// cmd/tagwatch/burner.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
)

func newBurnerCmd() *cobra.Command {
	var (
		burner int
		word   int
		reg    int
	)

	cmd := &cobra.Command{
		Use:   "burner",
		Short: "Convert between burner/word and register address",
		Long: fmt.Sprintf(
			"With --burner and --word prints the register (%d + (word-1)*%d + %d*burner).\nWith --register prints the burner and word it belongs to.",
			address.BurnerBase, address.BurnerWordWidth, address.BurnerStride,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()

			if cmd.Flags().Changed("register") {
				if reg < 0 || reg > 0xFFFF {
					return fmt.Errorf("register %d out of range", reg)
				}
				b, wd, ok := address.BurnerWord(uint16(reg))
				if !ok {
					return fmt.Errorf("register %d is not a burner word", reg)
				}
				fmt.Fprintf(w, "burner %d word %d\n", b, wd)
				return nil
			}

			if !cmd.Flags().Changed("burner") || !cmd.Flags().Changed("word") {
				return errors.New("need --burner and --word, or --register")
			}
			a, err := address.BurnerAddress(burner, word)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, a)
			return nil
		},
	}

	cmd.Flags().IntVar(&burner, "burner", 0, fmt.Sprintf("burner number 0..%d", address.MaxBurner))
	cmd.Flags().IntVar(&word, "word", 0, fmt.Sprintf("word number %d..%d", address.MinWord, address.MaxWord))
	cmd.Flags().IntVar(&reg, "register", 0, "register address to decompose")
	return cmd
}
