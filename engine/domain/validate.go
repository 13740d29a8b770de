package domain

import (
	"strconv"
	"strings"
)

// ValidateNewUser checks a signup payload. Admin accounts are seeded, never
// self-registered.
func ValidateNewUser(u NewUser) error {
	required := []struct{ field, value string }{
		{"name", u.Name},
		{"email", u.Email},
		{"phone", u.Phone},
		{"address", u.Address},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewValidationError(r.field, r.value, ErrRequired)
		}
	}

	email := strings.TrimSpace(u.Email)
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return NewValidationError("email", u.Email, ErrInvalidEmail)
	}

	t, err := ParseUserType(string(u.Type))
	if err != nil {
		return err
	}
	if t == UserAdmin {
		return NewValidationError("type", string(u.Type), ErrSelfRegisterAdmin)
	}
	return nil
}

// ValidateNewVendor checks a vendor signup payload.
func ValidateNewVendor(v NewVendor) error {
	if v.UserID <= 0 {
		return NewValidationError("userId", strconv.Itoa(v.UserID), ErrRequired)
	}
	required := []struct{ field, value string }{
		{"shopName", v.ShopName},
		{"ownerName", v.OwnerName},
		{"category", v.Category},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewValidationError(r.field, r.value, ErrRequired)
		}
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
