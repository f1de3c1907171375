package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/and161185/oaimirror/internal/crypto"
	"github.com/and161185/oaimirror/internal/fingerprint"
	"github.com/and161185/oaimirror/internal/oaidc"
)

func newFingerprintCmd() *cobra.Command {
	var (
		title   string
		authors []string
		year    int
		digest  string
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Compute the duplicate-detection fingerprint of a paper",
		Long: `fingerprint computes the identity key records are grouped by. No server or
database is needed.

Example:
  oaimirror fingerprint --title "Attention is all you need" \
    --author "Vaswani, Ashish" --author "Noam Shazeer" --year 2017`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := crypto.DigestByName(digest)
			if err != nil {
				return err
			}
			parsed, err := parseAuthors(authors)
			if err != nil {
				return err
			}
			eng := fingerprint.New(d)
			if plain {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), eng.Plain(title, parsed, year))
				return err
			}
			fp, err := eng.Fingerprint(title, parsed, year)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), fp)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "paper title")
	f.StringArrayVar(&authors, "author", nil, `author, "Family, Given" or "Given Family" (repeatable)`)
	f.IntVar(&year, "year", 0, "publication year")
	f.StringVar(&digest, "digest", crypto.DigestMD5, "md5 or blake2b")
	f.BoolVar(&plain, "plain", false, "print the plain fingerprint instead of its digest")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func parseAuthors(raw []string) ([]fingerprint.Author, error) {
	out := make([]fingerprint.Author, 0, len(raw))
	for _, s := range raw {
		a, ok := oaidc.ParseName(s)
		if !ok {
			return nil, fmt.Errorf("cannot parse author %q", s)
		}
		out = append(out, a)
	}
	return out, nil
}
