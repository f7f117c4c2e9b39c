package whatsapp

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/CitaBot/internal/models"
)

func message(m *waE2E.Message) *events.Message {
	sender := types.NewJID("59171234567", types.DefaultUserServer)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: sender, Sender: sender},
			ID:            "ABC123",
			Timestamp:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		Message: m,
	}
}

func TestConvertMessage(t *testing.T) {
	ev, ok := ConvertMessage(message(&waE2E.Message{Conversation: proto.String("hola")}))
	if !ok {
		t.Fatal("text message dropped")
	}
	text, isText := ev.(models.TextMessage)
	if !isText || text.From != "59171234567" || text.Body != "hola" {
		t.Fatalf("unexpected event %#v", ev)
	}
	if text.Ref.ID != "ABC123" || text.Ref.ChatID != "59171234567@s.whatsapp.net" {
		t.Errorf("unexpected ref %#v", text.Ref)
	}

	ev, _ = ConvertMessage(message(&waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quiero una cita")}}))
	if ev.(models.TextMessage).Body != "quiero una cita" {
		t.Errorf("extended text not converted: %#v", ev)
	}

	ev, _ = ConvertMessage(message(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg; codecs=opus"), Seconds: proto.Uint32(4), PTT: proto.Bool(true)}}))
	voice, isVoice := ev.(models.VoiceNote)
	if !isVoice || voice.Seconds != 4 || voice.Mimetype != "audio/ogg; codecs=opus" {
		t.Errorf("unexpected voice event %#v", ev)
	}

	ev, _ = ConvertMessage(message(&waE2E.Message{LocationMessage: &waE2E.LocationMessage{DegreesLatitude: proto.Float64(-16.5), DegreesLongitude: proto.Float64(-68.1)}}))
	if loc, isLoc := ev.(models.LocationShare); !isLoc || loc.Latitude != -16.5 {
		t.Errorf("unexpected location event %#v", ev)
	}
}

func TestConvertMessageDrops(t *testing.T) {
	own := message(&waE2E.Message{Conversation: proto.String("hola")})
	own.Info.IsFromMe = true
	group := message(&waE2E.Message{Conversation: proto.String("hola")})
	group.Info.IsGroup = true
	status := message(&waE2E.Message{Conversation: proto.String("hola")})
	status.Info.Chat = types.StatusBroadcastJID
	sticker := message(&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}})

	for name, m := range map[string]*events.Message{"own": own, "group": group, "status": status, "sticker": sticker, "empty": message(nil)} {
		if _, ok := ConvertMessage(m); ok {
			t.Errorf("%s message should be dropped", name)
		}
	}
}

func TestConvertCallOffer(t *testing.T) {
	caller := types.NewJID("59171234567", types.DefaultUserServer)
	ev := ConvertCallOffer(&events.CallOffer{BasicCallMeta: types.BasicCallMeta{From: caller, CallCreator: caller, CallID: "call-1"}})
	if ev.From != "59171234567" || ev.CallID != "call-1" || ev.Caller != caller.String() || ev.Status != models.CallOffer {
		t.Errorf("unexpected call event %#v", ev)
	}
}

func TestOptions(t *testing.T) {
	var opts Opts
	WithDBDSN("/tmp/wa.db")(&opts)
	WithQRCodeOutput("/tmp/qr.txt")(&opts)
	WithNumericCode()(&opts)
	if opts.DBDSN != "/tmp/wa.db" || opts.QRPath != "/tmp/qr.txt" || !opts.NumericCode {
		t.Errorf("options not applied: %#v", opts)
	}
}

func TestClientWithoutConnection(t *testing.T) {
	c := newClient(nil)
	ctx := context.Background()
	if err := c.SendText(ctx, "591", "hola"); err != ErrNotConnected {
		t.Errorf("SendText err = %v", err)
	}
	if _, err := c.DownloadMedia(ctx, models.MessageRef{ID: "x"}); err != ErrNotConnected {
		t.Errorf("DownloadMedia err = %v", err)
	}
}

func TestMockClientEmit(t *testing.T) {
	m := NewMockClient()
	var got []models.InboundEvent
	m.AddInboundHandler(func(ev models.InboundEvent) { got = append(got, ev) })
	m.Emit(models.TextMessage{From: "1", Body: "hola"})
	if len(got) != 1 {
		t.Fatalf("handler called %d times", len(got))
	}
	_ = m.SendText(context.Background(), "1", "x")
	if texts := m.SentTexts(); len(texts) != 1 || texts[0].Body != "x" {
		t.Errorf("unexpected texts %#v", texts)
	}
}

func TestReceiptsWithoutConnection(t *testing.T) {
	c := newClient(nil)
	ctx := context.Background()
	ref := models.MessageRef{ID: "ABC123", ChatID: "59171234567@s.whatsapp.net", SenderID: "59171234567@s.whatsapp.net"}
	if err := c.SendPresence(ctx, "59171234567", models.PresenceComposing); err != ErrNotConnected {
		t.Errorf("SendPresence err = %v", err)
	}
	if err := c.MarkRead(ctx, ref); err != ErrNotConnected {
		t.Errorf("MarkRead err = %v", err)
	}
	if err := c.RejectCall(ctx, "59171234567@s.whatsapp.net", "call-1"); err != ErrNotConnected {
		t.Errorf("RejectCall err = %v", err)
	}
}

func TestMockClientEmitUsesHandlerSnapshot(t *testing.T) {
	m := NewMockClient()
	calls := 0
	m.AddInboundHandler(func(models.InboundEvent) {
		calls++
		// Registering from inside a handler must not deadlock or extend this delivery.
		m.AddInboundHandler(func(models.InboundEvent) { calls += 10 })
	})
	m.Emit(models.TextMessage{From: "1", Body: "hola"})
	if calls != 1 {
		t.Fatalf("expected only the original handler, got %d", calls)
	}
	m.Emit(models.TextMessage{From: "1", Body: "otra"})
	if calls != 12 {
		t.Errorf("expected both handlers on the second event, got %d", calls)
	}
}
