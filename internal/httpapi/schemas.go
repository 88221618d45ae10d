package httpapi

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request payload schemas, compiled once at startup. Validation happens on
// the raw document before decoding so a malformed request is rejected with
// the schema's complaint instead of a half-decoded struct.

const taskCreateSchema = `{
	"type": "object",
	"required": ["clientId", "title"],
	"properties": {
		"id": {"type": "string"},
		"clientId": {"type": "string", "minLength": 1},
		"title": {"type": "string", "minLength": 1},
		"status": {"enum": ["pending", "in-progress", "awaiting-approval", "rejected", "completed"]},
		"assignee": {"type": "string"},
		"postDate": {"type": "string"},
		"dueDate": {"type": "string"},
		"createdAt": {"type": "string"},
		"updatedAt": {"type": "string"},
		"lastActivityAt": {"type": "string"},
		"completedAt": {"type": "string"}
	}
}`

const taskPatchSchema = `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"status": {"enum": ["pending", "in-progress", "awaiting-approval", "rejected", "completed"]},
		"assignee": {"type": "string"},
		"postDate": {"type": "string"},
		"dueDate": {"type": "string"},
		"completedAt": {"type": "string"}
	}
}`

const approvalPatchSchema = `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"title": {"type": "string"},
		"status": {"enum": ["pending", "approved", "rejected", "revision"]},
		"reviewer": {"type": "string"},
		"rejectedCount": {"type": "integer", "minimum": 0}
	}
}`

const commentCreateSchema = `{
	"type": "object",
	"required": ["clientId", "author"],
	"properties": {
		"id": {"type": "string"},
		"clientId": {"type": "string", "minLength": 1},
		"author": {"enum": ["client", "team"]},
		"body": {"type": "string"},
		"createdAt": {"type": "string"}
	}
}`

const contractCreateSchema = `{
	"type": "object",
	"required": ["clientId"],
	"properties": {
		"id": {"type": "string"},
		"clientId": {"type": "string", "minLength": 1},
		"status": {"enum": ["active", "negotiating"]},
		"monthlyFee": {"type": "integer", "minimum": 0},
		"startDate": {"type": "string"},
		"endDate": {"type": "string"},
		"renewalDate": {"type": "string"},
		"createdAt": {"type": "string"}
	}
}`

const contractPatchSchema = `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"status": {"enum": ["active", "negotiating"]},
		"monthlyFee": {"type": "integer", "minimum": 0},
		"startDate": {"type": "string"},
		"endDate": {"type": "string"},
		"renewalDate": {"type": "string"}
	}
}`

const notificationCreateSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"id": {"type": "string"},
		"clientId": {"type": "string"},
		"title": {"type": "string", "minLength": 1},
		"body": {"type": "string"},
		"read": {"type": "boolean"},
		"createdAt": {"type": "string"},
		"updatedAt": {"type": "string"}
	}
}`

const thresholdsSchema = `{
	"type": "object",
	"properties": {
		"stagnantDays": {"type": "integer", "minimum": 1},
		"noReplyDays": {"type": "integer", "minimum": 1},
		"renewalDays": {"type": "integer", "minimum": 1},
		"kpiDefinition": {"enum": ["A", "B"]},
		"deadlineBase": {"enum": ["dueDate", "postDate"]},
		"aggregationPeriod": {"enum": ["currentMonth", "last30Days", "last7Days"]},
		"kpiPeriodBase": {"enum": ["createdAt", "dueDate"]}
	}
}`

type schemaSet struct {
	taskCreate         *jsonschema.Schema
	taskPatch          *jsonschema.Schema
	approvalPatch      *jsonschema.Schema
	commentCreate      *jsonschema.Schema
	contractCreate     *jsonschema.Schema
	contractPatch      *jsonschema.Schema
	notificationCreate *jsonschema.Schema
	thresholds         *jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	compile := func(name, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		return sch, nil
	}

	set := &schemaSet{}
	var err error
	if set.taskCreate, err = compile("task-create.json", taskCreateSchema); err != nil {
		return nil, err
	}
	if set.taskPatch, err = compile("task-patch.json", taskPatchSchema); err != nil {
		return nil, err
	}
	if set.approvalPatch, err = compile("approval-patch.json", approvalPatchSchema); err != nil {
		return nil, err
	}
	if set.commentCreate, err = compile("comment-create.json", commentCreateSchema); err != nil {
		return nil, err
	}
	if set.contractCreate, err = compile("contract-create.json", contractCreateSchema); err != nil {
		return nil, err
	}
	if set.contractPatch, err = compile("contract-patch.json", contractPatchSchema); err != nil {
		return nil, err
	}
	if set.notificationCreate, err = compile("notification-create.json", notificationCreateSchema); err != nil {
		return nil, err
	}
	if set.thresholds, err = compile("thresholds.json", thresholdsSchema); err != nil {
		return nil, err
	}
	return set, nil
}

// validate checks a raw JSON document against a compiled schema.
func validate(sch *jsonschema.Schema, body []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return sch.Validate(doc)
}
