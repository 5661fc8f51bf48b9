// Package medicine holds the medicine record returned to clients and the
// logic that turns free-form model output into one.
package medicine

// NotAvailable is the value used for every field the model could not determine.
const NotAvailable = "Not available"

// InvalidResponseError marks a placeholder built because the model output was not JSON.
const InvalidResponseError = "Invalid response from AI"

// Field keys of a medicine record, in their canonical order.
const (
	FieldMedicineName = "medicine_name"
	FieldUses         = "uses"
	FieldSideEffects  = "side_effects"
	FieldDosage       = "dosage"
	FieldManufacturer = "manufacturer"
	FieldPrecautions  = "precautions"
	FieldExpiryDate   = "expiry_date"
	FieldComposition  = "composition"
	FieldError        = "error"
)

// Fields lists the eight record keys in canonical order.
var Fields = []string{
	FieldMedicineName,
	FieldUses,
	FieldSideEffects,
	FieldDosage,
	FieldManufacturer,
	FieldPrecautions,
	FieldExpiryDate,
	FieldComposition,
}

// Record is the structured description of one medicine package.
type Record struct {
	MedicineName string `json:"medicine_name"`
	Uses         string `json:"uses"`
	SideEffects  string `json:"side_effects"`
	Dosage       string `json:"dosage"`
	Manufacturer string `json:"manufacturer"`
	Precautions  string `json:"precautions"`
	ExpiryDate   string `json:"expiry_date"`
	Composition  string `json:"composition"`
	Error        string `json:"error,omitempty"`
}

// Placeholder returns the record used when the model output cannot be parsed.
func Placeholder() Record {
	r := Unknown()
	r.Error = InvalidResponseError
	return r
}

// Unknown returns a record with every field set to NotAvailable and no error.
func Unknown() Record {
	return Record{
		MedicineName: NotAvailable,
		Uses:         NotAvailable,
		SideEffects:  NotAvailable,
		Dosage:       NotAvailable,
		Manufacturer: NotAvailable,
		Precautions:  NotAvailable,
		ExpiryDate:   NotAvailable,
		Composition:  NotAvailable,
	}
}

func (r *Record) set(key, value string) {
	switch key {
	case FieldMedicineName:
		r.MedicineName = value
	case FieldUses:
		r.Uses = value
	case FieldSideEffects:
		r.SideEffects = value
	case FieldDosage:
		r.Dosage = value
	case FieldManufacturer:
		r.Manufacturer = value
	case FieldPrecautions:
		r.Precautions = value
	case FieldExpiryDate:
		r.ExpiryDate = value
	case FieldComposition:
		r.Composition = value
	}
}
