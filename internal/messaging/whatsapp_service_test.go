package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/whatsapp"
)

func TestWhatsAppService_SendText(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.SendText(context.Background(), "+591 712-34567", "hola"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	texts := mock.SentTexts()
	if len(texts) != 1 || texts[0].To != "59171234567" {
		t.Fatalf("unexpected sends %#v", texts)
	}
	if err := svc.SendText(context.Background(), "12", "hola"); err == nil {
		t.Error("expected validation error for a short number")
	}
}

func TestWhatsAppService_ForwardsInbound(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mock.Emit(models.TextMessage{From: "59171234567", Body: "hola"})
	select {
	case ev := <-svc.Events():
		if ev.Sender() != "59171234567" {
			t.Errorf("unexpected sender %q", ev.Sender())
		}
	default:
		t.Fatal("expected an inbound event")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
	if err := svc.SendText(context.Background(), "59171234567", "x"); err != ErrServiceStopped {
		t.Errorf("SendText after Stop = %v, want ErrServiceStopped", err)
	}
	// Emitting after stop must not panic on the closed channel.
	mock.Emit(models.TextMessage{From: "59171234567", Body: "late"})
}

func TestWhatsAppService_RejectCall(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.RejectCall(context.Background(), models.CallEvent{CallID: "c1", Caller: "591@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	if len(mock.Rejected) != 1 || mock.Rejected[0] != "c1" {
		t.Errorf("unexpected rejected calls %v", mock.Rejected)
	}
}
