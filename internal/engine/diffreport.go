package engine

import "github.com/aymanbagabas/go-udiff"

// DiffAssertion renders a unified diff between an expected and actual value
// string, used to enrich TestResult.Error messages for equality assertions
// and CollectionValidator schema-mismatch errors.
func DiffAssertion(name, expected, actual string) string {
	edits := udiff.Strings(expected, actual)
	unified, err := udiff.ToUnified("expected", "actual", expected, edits, 3)
	if err != nil {
		return name
	}
	return name + "\n" + unified
}
