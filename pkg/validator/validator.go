package validator

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageLength = 4000
	MaxBioLength     = 280
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// Error lists the failing fields in a stable order.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err returns v as an error, or nil when there is nothing to report.
func (v ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func ValidateRegister(email, username, password string) ValidationErrors {
	errs := make(ValidationErrors)

	validateEmail(email, errs)

	// Username, after the leading @ is dropped
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	validateEmail(email, errs)

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

// ValidateProfile checks the fields of a profile update. Nil fields are left
// unchanged and not checked.
func ValidateProfile(displayName, bio, avatarColor, avatarURL *string) ValidationErrors {
	errs := make(ValidationErrors)

	if displayName != nil {
		name := strings.TrimSpace(*displayName)
		if name == "" {
			errs.Add("display_name", "Display name is required")
		} else if utf8.RuneCountInString(name) > 100 {
			errs.Add("display_name", "Display name is too long")
		}
	}

	if bio != nil && utf8.RuneCountInString(*bio) > MaxBioLength {
		errs.Add("bio", fmt.Sprintf("Bio must be at most %d characters", MaxBioLength))
	}

	if avatarColor != nil && *avatarColor != "" && !colorRegex.MatchString(*avatarColor) {
		errs.Add("avatar_color", "Avatar color must look like #RRGGBB")
	}

	if avatarURL != nil && *avatarURL != "" && !isHTTPURL(*avatarURL) {
		errs.Add("avatar_url", "Avatar URL must be an http(s) URL")
	}

	return errs
}

// ValidateMessage checks a message body against its type tag.
func ValidateMessage(msgType, text string) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(text) == "" {
		errs.Add("text", "Message text is required")
		return errs
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("text", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
		return errs
	}

	switch msgType {
	case "gif":
		if !isHTTPURL(text) {
			errs.Add("text", "GIF messages must carry an http(s) URL")
		}
	case "sticker":
		if utf8.RuneCountInString(text) > 16 {
			errs.Add("text", "Sticker must be a single emoji")
		}
	}

	return errs
}

func validateEmail(email string, errs ValidationErrors) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
