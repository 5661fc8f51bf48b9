package llm

import (
	"context"
	"io"
)

// Client defines the capability to describe an image with a multimodal model.
type Client interface {
	// DescribeImage sends prompt together with the image read from r (seek not
	// required) of the given mime type, and returns the model's raw text.
	// An empty string with a nil error means the model returned no content.
	DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error)
}

// MedicinePrompt instructs the model to extract a medicine record from a
// photo of a medicine package.
const MedicinePrompt = `
You are a medical assistant. Analyze the medicine wrapper image and extract the available data.

Then, based on the medicine name or visible composition, try to intelligently infer common medical information like its uses, side effects, dosage, etc., even if they are not explicitly written on the image.

Output only clean JSON (no explanation, no markdown).

{
  "medicine_name": "",
  "uses": "",
  "side_effects": "",
  "dosage": "",
  "manufacturer": "",
  "precautions": "",
  "expiry_date": "",
  "composition": ""
}

If any field is not present or inferable, use "Not available".
`
