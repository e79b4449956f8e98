package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ymatsuda/tandem/internal/model"
)

func TestLocal_SendTask(t *testing.T) {
	tr := NewLocal()
	tr.RegisterTaskHandler(func(ctx context.Context, req model.TaskRequest) model.TaskResponse {
		return model.TaskResponse{Success: true, TaskID: req.TaskID}
	})

	resp, err := tr.SendTask(context.Background(), model.TaskRequest{TaskID: "task_1"})
	if err != nil {
		t.Fatalf("SendTask: %v", err)
	}
	if !resp.Success || resp.TaskID != "task_1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLocal_SendTask_NoHandler(t *testing.T) {
	tr := NewLocal()

	resp, err := tr.SendTask(context.Background(), model.TaskRequest{TaskID: "T3"})
	if err != nil {
		t.Fatalf("no-handler send must not error at the transport level: %v", err)
	}
	if resp.Success {
		t.Error("no-handler send reported success")
	}
	if resp.Error != "No task handler registered" {
		t.Errorf("error text = %q", resp.Error)
	}
	if resp.TaskID != "T3" {
		t.Errorf("task ID not echoed: %q", resp.TaskID)
	}
}

func TestLocal_SendMessage(t *testing.T) {
	tr := NewLocal()

	if err := tr.SendMessage(context.Background(), model.MessageContent{}); err == nil {
		t.Error("message send without a consumer must error")
	}

	var got model.MessageContent
	tr.RegisterMessageHandler(func(ctx context.Context, msg model.MessageContent) error {
		got = msg
		return nil
	})
	msg := model.MessageContent{ChatID: "chat1", Type: model.ContentText, Text: "hello"}
	if err := tr.SendMessage(context.Background(), msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.Text != "hello" || got.ChatID != "chat1" {
		t.Errorf("delivered = %+v", got)
	}
}

func TestLocal_SendMessage_HandlerError(t *testing.T) {
	tr := NewLocal()
	want := errors.New("downstream down")
	tr.RegisterMessageHandler(func(ctx context.Context, msg model.MessageContent) error {
		return want
	})

	if err := tr.SendMessage(context.Background(), model.MessageContent{}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestLocal_SendControl_NoHandler(t *testing.T) {
	tr := NewLocal()

	resp, err := tr.SendControl(context.Background(), model.ControlCommand{Type: model.ControlReset})
	if err != nil {
		t.Fatalf("SendControl: %v", err)
	}
	if resp.Success {
		t.Error("no-handler control reported success")
	}
	if resp.Type != model.ControlReset {
		t.Errorf("type not echoed: %q", resp.Type)
	}
}
