// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 0, 0, 2)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = cellStyle.Foreground(lipgloss.Color("9"))
)

// renderTable renders rows under headers. Rows for which highlighted returns true are shown in
// red, and the columns listed in rightAligned are aligned to the right.
func renderTable(headers []string, rows [][]string, highlighted func(row int) bool, rightAligned ...int) string {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := cellStyle
			switch {
			case row < 0:
				s = headerStyle
			case highlighted != nil && highlighted(row):
				s = errorStyle
			}
			if slices.Contains(rightAligned, col) {
				s = s.Align(lipgloss.Right)
			}
			return s
		}).
		Render()
}

// PrintVariables lists the variables of the model, with their shapes and sizes, followed by
// the totals.
func PrintVariables(ctx *context.Context) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Variables in scope %q", ctx.Scope())))
	var rows [][]string
	var totalSize int
	var totalMemory uintptr
	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		shape := v.Shape()
		totalSize += shape.Size()
		totalMemory += shape.Memory()
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		})
	})
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	numVariables := len(rows)
	rows = append(rows, []string{"Total", fmt.Sprintf("%d variables", numVariables), "",
		humanize.Comma(int64(totalSize)), humanize.Bytes(uint64(totalMemory))})
	fmt.Println(renderTable([]string{"Scope", "Name", "Shape", "Size", "Bytes"}, rows,
		func(row int) bool { return row == numVariables }, 3, 4))
}

// PrintSamples shows the source, expected target and predicted tokens of each example.
// Wrong predictions are highlighted in red.
func PrintSamples(source [][]int32, lengths []int32, target, predictions [][]int32, endToken int32) {
	fmt.Println(titleStyle.Render("Samples"))
	rows := make([][]string, len(source))
	wrong := make([]bool, len(source))
	var numCorrect int
	for ii := range source {
		length := int(lengths[ii])
		want := formatTokens(target[ii][:length])
		got := formatTokens(trimAtEnd(predictions[ii], endToken))
		rows[ii] = []string{formatTokens(source[ii][:length]), want, got}
		wrong[ii] = want != got
		if !wrong[ii] {
			numCorrect++
		}
	}
	fmt.Println(renderTable([]string{"Source", "Target", "Prediction"}, rows,
		func(row int) bool { return wrong[row] }))
	fmt.Printf("%d of %d sequences predicted correctly.\n", numCorrect, len(source))
}

// trimAtEnd returns tokens up to the first endToken, excluded.
func trimAtEnd(tokens []int32, endToken int32) []int32 {
	if idx := slices.Index(tokens, endToken); idx >= 0 {
		return tokens[:idx]
	}
	return tokens
}

func formatTokens(tokens []int32) string {
	parts := make([]string, len(tokens))
	for ii, token := range tokens {
		parts[ii] = fmt.Sprint(token)
	}
	return strings.Join(parts, " ")
}
