package classifier

import "context"

// MockAIClient is a deterministic test double for AIClient, grounded on
// ai/providers/mock's canned-response pattern (fixed queue of responses,
// call counting, optional forced error).
type MockAIClient struct {
	Responses []string
	Err       error
	CallCount int
}

func (m *MockAIClient) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	m.CallCount++
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "no suggested fixes available", nil
	}
	idx := (m.CallCount - 1) % len(m.Responses)
	return m.Responses[idx], nil
}
