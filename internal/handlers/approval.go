package handlers

import (
	"context"
	"fmt"
	"strings"
)

// TypeApproval — тип handler'а согласования.
const TypeApproval = "approval"

// Решения по согласованию.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Ключи конфигурации и полей формы approval.
const (
	configTitle                  = "title"
	configDescription            = "description"
	configVariable               = "variable"
	configRequireCommentOnReject = "require_comment_on_reject"

	fieldDecision = "decision"
	fieldComment  = "comment"
)

// ApprovalHandler — согласование: исполнитель одобряет или отклоняет.
//
// Решение записывается в переменную (по умолчанию "<node>_decision"),
// комментарий в "<variable>_comment", исполнитель в "<variable>_by".
//
// Конфигурация:
//
//	{
//	    "title": "Approve expense of {{ .Variables.amount }}",
//	    "variable": "manager_decision",
//	    "require_comment_on_reject": true
//	}
type ApprovalHandler struct{ Interactive }

// NewApprovalHandler создаёт ApprovalHandler.
func NewApprovalHandler() *ApprovalHandler { return &ApprovalHandler{} }

// TypeID возвращает тип задачи.
func (h *ApprovalHandler) TypeID() string { return TypeApproval }

// BuildInteractionForm описывает форму согласования.
func (h *ApprovalHandler) BuildInteractionForm(ctx context.Context, ec *ExecutionContext) (*Form, error) {
	config, err := ec.Config()
	if err != nil {
		return nil, err
	}

	title := Values(config).String(configTitle)
	if title == "" {
		title = "Approve " + ec.Node.DisplayName()
	}

	return &Form{
		Title:       title,
		Description: Values(config).String(configDescription),
		Fields: []FormField{
			{
				Name:     fieldDecision,
				Label:    "Decision",
				Type:     "select",
				Required: true,
				Options:  []string{DecisionApprove, DecisionReject},
			},
			{
				Name:     fieldComment,
				Label:    "Comment",
				Type:     "textarea",
				Required: false,
			},
		},
		Actions: []string{DecisionApprove, DecisionReject},
	}, nil
}

// ValidateSubmission проверяет решение и комментарий.
func (h *ApprovalHandler) ValidateSubmission(ec *ExecutionContext, input map[string]any) error {
	var violations []string

	submitted := Values(input)
	decision := submitted.String(fieldDecision)
	switch decision {
	case DecisionApprove, DecisionReject:
	case "":
		violations = append(violations, "decision is required")
	default:
		violations = append(violations, fmt.Sprintf("decision must be %q or %q, got %q", DecisionApprove, DecisionReject, decision))
	}

	if decision == DecisionReject && Values(ec.Node.Config).Bool(configRequireCommentOnReject, false) &&
		strings.TrimSpace(submitted.String(fieldComment)) == "" {
		violations = append(violations, "comment is required when rejecting")
	}

	if len(violations) > 0 {
		return NewSubmissionError(violations...)
	}
	return nil
}

// ApplySubmission записывает решение в переменные процесса.
func (h *ApprovalHandler) ApplySubmission(ec *ExecutionContext, input map[string]any) error {
	variable := Values(ec.Node.Config).String(configVariable)
	if variable == "" {
		variable = ec.Node.ID + "_decision"
	}

	submitted := Values(input)
	ec.Set(variable, submitted.String(fieldDecision))
	if comment := submitted.String(fieldComment); comment != "" {
		ec.Set(variable+"_comment", comment)
	}
	if ec.Actor != "" {
		ec.Set(variable+"_by", ec.Actor)
	}
	return nil
}
