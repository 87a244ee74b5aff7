package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// tableScanPrompt is the shared prompt used by all providers for turning a
// scanned document image into a table
const tableScanPrompt = `You are analyzing a photographed or scanned document that contains tabular data. Carefully read all text in the image and reconstruct the table.

Rules:
- Return the table as a JSON array of rows, where each row is an array of string cells.
- The first row should be the header row if the document has one.
- Preserve the reading order of rows and columns exactly as they appear.
- Keep every cell value as a string, including numbers and dates.
- If a cell is empty or unreadable, use an empty string for it.
- Do not merge, summarize, or invent rows.
- Do not include any text before or after the JSON.
- Do not use markdown code blocks.`

// tableResponseSchema declares the structured-output contract: a
// two-dimensional array of strings. The endpoint does the optical
// recognition and table-structure inference; this client only declares the
// shape it wants back.
var tableResponseSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeString},
	},
}

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	modelName string
}

// NewGemini creates a new Gemini Extractor instance. No client is built
// here: the API key is user state and arrives with each call.
func NewGemini(modelName string) *Gemini {
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	return &Gemini{modelName: modelName}
}

// ExtractTable sends the image to Gemini with the structured-output
// contract and returns the recognized table
func (g *Gemini) ExtractTable(payload EncodedPayload, apiKey string) (Table, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no api key supplied", ErrInvalidAPIKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, classifyRemoteError(fmt.Errorf("creating gemini client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = tableResponseSchema

	imageData, err := payload.Bytes()
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the
	// full MIME type (e.g., "image/png")
	parts := []genai.Part{
		genai.ImageData(payload.Format(), imageData),
		genai.Text(tableScanPrompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyRemoteError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrNoResponse
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	table, err := parseTableJSON(responseText.String())
	if err != nil {
		if err == ErrEmptyResult {
			return nil, err
		}
		return nil, fmt.Errorf("parsing table data: %w", err)
	}

	return table, nil
}

// Close closes the Gemini extractor (clients are per-call, nothing is held)
func (g *Gemini) Close() error {
	return nil
}
