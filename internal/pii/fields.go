package pii

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/truth-cli/internal/model"
)

// EmailField returns a zap field carrying a masked email.
func EmailField(key, email string) zap.Field {
	return zap.String(key, Mask(email, Email))
}

// KeyField returns a zap field for a record key, which may be an email or a
// row reference.
func KeyField(key string) zap.Field {
	return zap.String("record", Mask(key, Text))
}

// Contact returns a zap field with every personal value of rec masked.
// Company-level values are logged as-is.
func Contact(rec *model.ContactRecord) zap.Field {
	return zap.Object("contact", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		if rec.Row > 0 {
			enc.AddInt("row", rec.Row)
		}
		enc.AddString("email", Mask(rec.Email, Email))
		enc.AddString("first_name", Mask(rec.FirstName, Name))
		enc.AddString("last_name", Mask(rec.LastName, Name))
		enc.AddString("phone", Mask(rec.PersonPhone, Phone))
		enc.AddString("company", rec.CompanyName)
		enc.AddString("website", rec.Website)
		return nil
	}))
}
