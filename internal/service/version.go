package service

import (
	"regexp"

	"docuflow/internal/apperror"

	"github.com/shopspring/decimal"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d$`)

var versionStep = decimal.New(1, -1)

// NextVersion adds 0.1 to a "X.Y" version: 1.0 -> 1.1, 1.9 -> 2.0, 0.9 -> 1.0.
func NextVersion(current string) (string, error) {
	if !versionPattern.MatchString(current) {
		return "", apperror.Newf(apperror.KindValidation, "versión inválida %q", current)
	}
	v, err := decimal.NewFromString(current)
	if err != nil {
		return "", apperror.Newf(apperror.KindValidation, "versión inválida %q", current)
	}
	return v.Add(versionStep).StringFixed(1), nil
}
