// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the locale files against the source tree. It fails when
// code uses a message id the primary locale lacks, when another locale is
// missing an id, or when a translation takes a different number of format
// arguments than the primary text. Ids no code uses are reported as warnings.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

var (
	usedKeyRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)
	verbRe    = regexp.MustCompile(`%[-+# 0]*\d*(?:\.\d+)?[a-zA-Z]`)
)

func main() {
	os.Exit(run(".", os.Stdout))
}

// run lints the project at root and returns the process exit code.
func run(root string, out io.Writer) int {
	used, err := findUsedKeys(root)
	if err != nil {
		fmt.Fprintf(out, "error scanning sources: %v\n", err)
		return 1
	}
	dir := filepath.Join(root, localesDir)
	primary, err := loadMessages(filepath.Join(dir, primaryLocale))
	if err != nil {
		fmt.Fprintf(out, "error loading %s: %v\n", primaryLocale, err)
		return 1
	}
	fmt.Fprintf(out, "%d ids used in code, %d ids in %s\n", len(used), len(primary), primaryLocale)

	failed := false
	for _, key := range sortedKeys(used) {
		if _, ok := primary[key]; !ok {
			fmt.Fprintf(out, "undefined: %s (used in %s)\n", key, used[key])
			failed = true
		}
	}
	for _, key := range sortedKeys(primary) {
		if _, ok := used[key]; !ok {
			fmt.Fprintf(out, "warning: unused: %s\n", key)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		fmt.Fprintf(out, "error listing locales: %v\n", err)
		return 1
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		other, err := loadMessages(file)
		if err != nil {
			fmt.Fprintf(out, "error loading %s: %v\n", file, err)
			failed = true
			continue
		}
		for _, problem := range compareLocales(primary, other) {
			fmt.Fprintf(out, "%s: %s\n", filepath.Base(file), problem)
			failed = true
		}
	}

	if failed {
		fmt.Fprintln(out, "translation files need attention")
		return 1
	}
	fmt.Fprintln(out, "translation files are consistent")
	return 0
}

// findUsedKeys maps every id passed to i18n.T in non-test Go files under
// root to the first file using it. The tools directory is skipped.
func findUsedKeys(root string) (map[string]string, error) {
	keys := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			switch info.Name() {
			case "tools", "_examples", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range usedKeyRe.FindAllStringSubmatch(string(content), -1) {
			if _, seen := keys[m[1]]; !seen {
				keys[m[1]] = path
			}
		}
		return nil
	})
	return keys, err
}

// loadMessages reads a flat locale file into id -> text.
func loadMessages(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(data))
	flatten("", data, out)
	return out, nil
}

// flatten turns nested maps into dot-separated ids.
func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, val, out)
		}
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprint(v)
		}
	}
}

// compareLocales lists ids missing from other and translations whose format
// verbs differ from the primary text.
func compareLocales(primary, other map[string]string) []string {
	var problems []string
	for _, key := range sortedKeys(primary) {
		text, ok := other[key]
		if !ok {
			problems = append(problems, "missing: "+key)
			continue
		}
		want := verbRe.FindAllString(primary[key], -1)
		got := verbRe.FindAllString(text, -1)
		if strings.Join(want, " ") != strings.Join(got, " ") {
			problems = append(problems, fmt.Sprintf("format mismatch: %s (%v vs %v)", key, want, got))
		}
	}
	return problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
