package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/medline/internal/models"
	"github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
	loc    *time.Location
}

func New(apiKey, baseURL, model string, loc *time.Location) *Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	if loc == nil {
		loc = time.Local
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		loc:    loc,
	}
}

// MedicationDraft is a medication described in free text, waiting for the
// user to confirm it.
type MedicationDraft struct {
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage"`
	Frequency    string   `json:"frequency"`
	Slots        []string `json:"slots"`
	Notes        string   `json:"notes"`
	Confidence   float64  `json:"confidence"`
	NeedMoreInfo bool     `json:"need_more_info"`
	AIMessage    string   `json:"ai_message"`
	RawResponse  string   `json:"-"`
}

// ToMedication converts the draft into an active medication. The result
// still has to pass Medication.Validate.
func (d *MedicationDraft) ToMedication() (*models.Medication, error) {
	freq, err := models.ParseFrequency(d.Frequency)
	if err != nil {
		return nil, err
	}
	slots := make([]models.TimeSlot, 0, len(d.Slots))
	for _, raw := range d.Slots {
		slot, err := models.ParseTimeSlot(raw)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return &models.Medication{
		Name:      strings.TrimSpace(d.Name),
		Dosage:    strings.TrimSpace(d.Dosage),
		Notes:     strings.TrimSpace(d.Notes),
		Frequency: freq,
		Slots:     slots,
		Active:    true,
	}, nil
}

const systemPromptTemplate = `你是 medline 的用藥助理，負責把用戶描述的用藥計畫轉換為結構化資料。

當前時間: %s

欄位說明：
- name: 藥品名稱
- dosage: 劑量，例如 "100mg"、"1 顆"
- frequency: 頻率，只能是 daily、weekly、monthly、as_needed，或以逗號分隔的星期代碼 (mo,tu,we,th,fr,sa,su)
- slots: 每天服藥時間，格式 HH:MM (24 小時制)，例如 ["08:00", "20:00"]
- notes: 其他注意事項，例如「飯後服用」

重要規則：
1. 「早上」預設 08:00、「中午」12:00、「晚上」20:00、「睡前」22:00。
2. 「每天三次」且沒有指定時間時，使用 08:00、13:00、20:00。
3. 需要時才吃的藥 frequency 為 as_needed，slots 為空陣列。
4. 缺少藥品名稱時，設定 need_more_info = true，並在 ai_message 追問。
5. ai_message 是給用戶的簡短說明。`

func (c *Client) systemPrompt() string {
	now := time.Now().In(c.loc)
	return fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 15:04 (Monday)"))
}

// JSON Schema for structured output
var draftSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "Medication name"},
		"dosage": {"type": "string", "description": "Dose per intake"},
		"frequency": {"type": "string", "description": "daily, weekly, monthly, as_needed or a weekday list such as mo,we,fr"},
		"slots": {
			"type": "array",
			"items": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
			"description": "Times of day in HH:MM"
		},
		"notes": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"need_more_info": {"type": "boolean"},
		"ai_message": {"type": "string"}
	},
	"required": ["name", "dosage", "frequency", "slots", "notes", "confidence", "need_more_info", "ai_message"],
	"additionalProperties": false
}`)

// ParseMedication asks the model to turn a free-text description into a draft.
func (c *Client) ParseMedication(ctx context.Context, text string) (*MedicationDraft, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.systemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "medication",
				Schema: draftSchema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call AI API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from AI")
	}

	return parseDraft(resp.Choices[0].Message.Content)
}

func parseDraft(content string) (*MedicationDraft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	draft := &MedicationDraft{RawResponse: content}
	if err := json.Unmarshal([]byte(content), draft); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return draft, nil
}
