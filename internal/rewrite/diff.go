package rewrite

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
)

// Diff renders a unified diff between the canonical encodings of an
// original and a rewritten class.
func Diff(original, rewritten *classfile.Definition) (string, error) {
	a, err := classfile.Encode(original)
	if err != nil {
		return "", err
	}

	b, err := classfile.Encode(rewritten)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fmt.Sprintf("%s (original)", original.Name),
		ToFile:   fmt.Sprintf("%s (rewritten)", rewritten.Name),
		Context:  3,
	}

	return difflib.GetUnifiedDiffString(diff)
}
