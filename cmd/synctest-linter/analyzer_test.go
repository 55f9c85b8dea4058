package main

import (
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/analysis"
)

func sleepLines(t *testing.T, src string) []int {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "x_test.go", src, 0)
	require.NoError(t, err)

	var lines []int
	for _, call := range unsyncedSleeps(file) {
		lines = append(lines, fset.Position(call.Pos()).Line)
	}
	return lines
}

func TestUnsyncedSleeps(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int
	}{
		{
			name: "sleep inside bubble",
			src: `package x
import (
	"testing"
	"testing/synctest"
	"time"
)
func TestA(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		time.Sleep(time.Second)
	})
}`,
		},
		{
			name: "sleep on real clock",
			src: `package x
import (
	"testing"
	"time"
)
func TestA(t *testing.T) {
	time.Sleep(time.Second)
}`,
			want: []int{7},
		},
		{
			name: "synctest imported but sleep after bubble",
			src: `package x
import (
	"testing"
	"testing/synctest"
	"time"
)
func TestA(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {})
	time.Sleep(time.Millisecond)
}`,
			want: []int{9},
		},
		{
			name: "goroutine inside bubble",
			src: `package x
import (
	"testing"
	"testing/synctest"
	"time"
)
func TestA(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		go func() { time.Sleep(time.Second) }()
	})
}`,
		},
		{
			name: "renamed imports",
			src: `package x
import (
	"testing"
	st "testing/synctest"
	clock "time"
)
func TestA(t *testing.T) {
	st.Test(t, func(t *testing.T) { clock.Sleep(clock.Second) })
	clock.Sleep(clock.Second)
}`,
			want: []int{9},
		},
		{
			name: "no time import",
			src: `package x
import "testing"
func TestA(t *testing.T) {}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sleepLines(t, tt.src))
		})
	}
}

func TestAnalyzerMetadata(t *testing.T) {
	assert.Equal(t, "synctest", Analyzer.Name)
	assert.NoError(t, analysis.Validate([]*analysis.Analyzer{Analyzer}))
}
