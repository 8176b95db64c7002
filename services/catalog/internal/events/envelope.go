package events

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"catalogd/services/catalog/internal/model"
)

// ErrMalformedEvent marks a body that cannot be decoded into any supported
// change notification shape.
var ErrMalformedEvent = errors.New("events: malformed event")

// Envelope kinds. Most traffic is notifications; subscription confirmations
// arrive once per webhook registration.
const (
	KindNotification             = "notification"
	KindSubscriptionConfirmation = "subscription-confirmation"
)

// Change is one object-level change extracted from a provider envelope.
type Change struct {
	Bucket     string
	Key        string
	EventType  string
	ChangeType string
	SizeBytes  int64
	Modified   time.Time
	Scheme     string
}

// Envelope is the decoded notification body.
type Envelope struct {
	Kind         string
	SubscribeURL string
	Changes      []Change
}

type snsWrapper struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type s3Notification struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventName string `json:"eventName"`
	EventTime string `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

type pubsubPush struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type pubsubObject struct {
	Name    string `json:"name"`
	Bucket  string `json:"bucket"`
	Size    string `json:"size"`
	Updated string `json:"updated"`
}

// ParseEnvelope decodes a webhook or queue body into changes. It accepts the
// SNS wrapper (with the provider payload nested in Message), a bare S3
// Records document, and the pub/sub push format with base64 message data.
func ParseEnvelope(body []byte) (Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if _, ok := probe["Type"]; ok {
		var wrap snsWrapper
		if err := json.Unmarshal(body, &wrap); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		switch wrap.Type {
		case "SubscriptionConfirmation":
			if wrap.SubscribeURL == "" {
				return Envelope{}, fmt.Errorf("%w: confirmation without SubscribeURL", ErrMalformedEvent)
			}
			return Envelope{Kind: KindSubscriptionConfirmation, SubscribeURL: wrap.SubscribeURL}, nil
		case "Notification":
			inner, err := ParseEnvelope([]byte(wrap.Message))
			if err != nil {
				return Envelope{}, err
			}
			return inner, nil
		default:
			return Envelope{}, fmt.Errorf("%w: unsupported wrapper type %q", ErrMalformedEvent, wrap.Type)
		}
	}

	if _, ok := probe["Records"]; ok {
		return parseS3Records(body)
	}
	if _, ok := probe["message"]; ok {
		return parsePubsubPush(body)
	}
	return Envelope{}, fmt.Errorf("%w: unrecognized envelope shape", ErrMalformedEvent)
}

func parseS3Records(body []byte) (Envelope, error) {
	var doc s3Notification
	if err := json.Unmarshal(body, &doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(doc.Records) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty Records", ErrMalformedEvent)
	}

	env := Envelope{Kind: KindNotification}
	for _, rec := range doc.Records {
		if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
			return Envelope{}, fmt.Errorf("%w: record missing bucket or key", ErrMalformedEvent)
		}
		change := Change{
			Bucket:     rec.S3.Bucket.Name,
			Key:        rec.S3.Object.Key,
			EventType:  rec.EventName,
			ChangeType: mapEventType(rec.EventName),
			SizeBytes:  rec.S3.Object.Size,
			Scheme:     "s3",
		}
		if ts, err := time.Parse(time.RFC3339, rec.EventTime); err == nil {
			change.Modified = ts
		}
		env.Changes = append(env.Changes, change)
	}
	return env, nil
}

func parsePubsubPush(body []byte) (Envelope, error) {
	var push pubsubPush
	if err := json.Unmarshal(body, &push); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if push.Message.Data == "" {
		return Envelope{}, fmt.Errorf("%w: empty message data", ErrMalformedEvent)
	}

	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: message data is not base64: %v", ErrMalformedEvent, err)
	}
	var obj pubsubObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Envelope{}, fmt.Errorf("%w: message data is not an object payload: %v", ErrMalformedEvent, err)
	}
	if obj.Bucket == "" || obj.Name == "" {
		return Envelope{}, fmt.Errorf("%w: object payload missing bucket or name", ErrMalformedEvent)
	}

	eventType := push.Message.Attributes["eventType"]
	change := Change{
		Bucket:     obj.Bucket,
		Key:        obj.Name,
		EventType:  eventType,
		ChangeType: mapEventType(eventType),
		Scheme:     "gs",
	}
	if obj.Size != "" {
		if n, err := strconv.ParseInt(obj.Size, 10, 64); err == nil {
			change.SizeBytes = n
		}
	}
	if ts, err := time.Parse(time.RFC3339, obj.Updated); err == nil {
		change.Modified = ts
	}
	return Envelope{Kind: KindNotification, Changes: []Change{change}}, nil
}

// mapEventType folds provider event names into the catalog's three change
// types. Unknown names default to created, which an upsert absorbs safely.
func mapEventType(name string) string {
	switch {
	case strings.HasPrefix(name, "ObjectCreated"):
		return model.ChangeCreated
	case strings.HasPrefix(name, "ObjectRemoved"):
		return model.ChangeRemoved
	case strings.Contains(name, "MetadataUpdate"):
		return model.ChangeUpdated
	case name == "OBJECT_FINALIZE":
		return model.ChangeCreated
	case name == "OBJECT_DELETE":
		return model.ChangeRemoved
	case name == "OBJECT_METADATA_UPDATE":
		return model.ChangeUpdated
	default:
		return model.ChangeCreated
	}
}
