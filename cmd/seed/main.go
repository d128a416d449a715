// Command seed exports the built-in catalog as YAML, or validates a YAML
// catalog and prints its summary.
//
//	seed -out catalog.yaml
//	seed -check catalog.yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/config"
)

func main() {
	out := flag.String("out", "", "write the default catalog to this file (- for stdout)")
	check := flag.String("check", "", "validate this YAML catalog")
	rules := flag.String("rules", "", "also validate this YAML rules file")
	flag.Parse()

	if err := run(os.Stdout, *out, *check, *rules); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, out, check, rulesPath string) error {
	if out == "" && check == "" && rulesPath == "" {
		out = "-"
	}

	if out != "" {
		if err := export(w, out); err != nil {
			return err
		}
	}
	if check != "" {
		cat, err := catalog.LoadFile(check)
		if err != nil {
			return err
		}
		summarize(w, check, cat)
	}
	if rulesPath != "" {
		rules, err := config.LoadRules(rulesPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: rules ok (maxTurns=%d, ballotSize=%d, players %d-%d)\n",
			rulesPath, rules.MaxTurns, rules.BallotSize, rules.MinPlayers, rules.MaxPlayers)
	}
	return nil
}

func export(w io.Writer, path string) error {
	cat := catalog.Default()
	if path == "-" {
		return catalog.WriteYAML(w, cat)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := catalog.WriteYAML(f, cat); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	summarize(w, path, cat)
	return nil
}

func summarize(w io.Writer, name string, cat *catalog.Catalog) {
	perCategory := map[catalog.Category]int{}
	for _, p := range cat.Policies() {
		perCategory[p.Category]++
	}
	cats := make([]string, 0, len(perCategory))
	for c := range perCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	fmt.Fprintf(w, "%s: %d policies, %d ideologies, digest %s\n",
		name, len(cat.PolicyIDs()), len(cat.IdeologyIDs()), cat.Digest())
	for _, c := range cats {
		fmt.Fprintf(w, "  %-12s %d\n", c, perCategory[catalog.Category(c)])
	}
}
