package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errNoSelection means the user entered an empty line.
var errNoSelection = errors.New("no files selected")

// selectFiles lists all and reads a comma-separated list of 1-based
// indexes from in, re-prompting until at least one is valid.
func selectFiles(in io.Reader, out io.Writer, all []string) ([]string, error) {
	fmt.Fprintln(out, "\nFound the following Solidity files:")
	for i, path := range all {
		fmt.Fprintf(out, "%d. %s\n", i+1, path)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nEnter the numbers of files to audit (comma-separated, e.g. '1,3,4'): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("read selection: %w", err)
			}
			return nil, errNoSelection
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil, errNoSelection
		}

		indexes, err := parseSelection(line)
		if err != nil {
			fmt.Fprintln(out, "Invalid input. Please enter comma-separated numbers")
			continue
		}
		var selected []string
		seen := make(map[int]bool, len(indexes))
		for _, idx := range indexes {
			if idx < 1 || idx > len(all) {
				fmt.Fprintf(out, "Invalid selection %d, skipping...\n", idx)
				continue
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			selected = append(selected, all[idx-1])
		}
		if len(selected) == 0 {
			fmt.Fprintln(out, "No valid files selected, please try again")
			continue
		}

		fmt.Fprintln(out, "\nSelected files:")
		for _, path := range selected {
			fmt.Fprintf(out, "- %s\n", path)
		}
		return selected, nil
	}
}

func parseSelection(line string) ([]int, error) {
	parts := strings.Split(line, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
