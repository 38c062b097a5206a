package trigger

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/transfer"
)

var errNoPayload = errors.New("message carries no usable payload")

// pushEnvelope is the body of a Pub/Sub push delivery.
type pushEnvelope struct {
	Message struct {
		Attributes map[string]string `json:"attributes"`
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// objectResource is the JSON form of a storage object used by GCS
// notifications and by plain callers.
type objectResource struct {
	Name        string          `json:"name"`
	Bucket      string          `json:"bucket"`
	ContentType string          `json:"contentType"`
	Size        json.RawMessage `json:"size"`
}

type s3Event struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// FetchRequest is what a fetch trigger asks for.
type FetchRequest struct {
	MessageID string
	URL       string
	Route     string
}

func decodeData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding message data: %w", err)
	}
	return decoded, nil
}

// parseFetch reads the source URL from the zipurl or url attribute, falling
// back to the message data as a bare URL.
func parseFetch(body []byte) (FetchRequest, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return FetchRequest{}, fmt.Errorf("error parsing push envelope: %w", err)
	}
	attrs := env.Message.Attributes
	req := FetchRequest{MessageID: env.Message.MessageID, Route: attrs["route"]}
	for _, key := range []string{"zipurl", "url"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			req.URL = v
			break
		}
	}
	if req.URL == "" {
		data, err := decodeData(env.Message.Data)
		if err != nil {
			return req, err
		}
		req.URL = strings.TrimSpace(string(data))
	}
	if req.URL == "" {
		return req, errNoPayload
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return req, fmt.Errorf("invalid source URL %q", req.URL)
	}
	if routing.FileName(req.URL) == "" {
		return req, fmt.Errorf("source URL %q names no file", req.URL)
	}
	return req, nil
}

// parseExtract accepts a Pub/Sub storage notification, a bare object
// resource, or an S3 event notification. S3 events may batch several objects.
func parseExtract(body []byte) ([]transfer.ObjectRef, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("error parsing notification: %w", err)
	}
	switch {
	case probe["message"] != nil:
		var env pushEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("error parsing push envelope: %w", err)
		}
		attrs := env.Message.Attributes
		data, err := decodeData(env.Message.Data)
		if err != nil {
			return nil, err
		}
		ref := transfer.ObjectRef{Bucket: attrs["bucketId"], Path: attrs["objectId"]}
		if len(data) > 0 {
			if dataRef, err := parseObjectResource(data); err == nil {
				ref = mergeRefs(ref, dataRef)
			} else if ref.Path == "" {
				return nil, err
			}
		}
		if ref.Path == "" {
			return nil, errNoPayload
		}
		return []transfer.ObjectRef{ref}, nil
	case probe["Records"] != nil:
		var ev s3Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("error parsing s3 event: %w", err)
		}
		refs := make([]transfer.ObjectRef, 0, len(ev.Records))
		for _, r := range ev.Records {
			rec := r.S3
			key, err := url.QueryUnescape(rec.Object.Key)
			if err != nil {
				return nil, fmt.Errorf("error decoding object key %q: %w", rec.Object.Key, err)
			}
			if key == "" {
				continue
			}
			refs = append(refs, transfer.ObjectRef{Bucket: rec.Bucket.Name, Path: key, Size: rec.Object.Size})
		}
		if len(refs) == 0 {
			return nil, errNoPayload
		}
		return refs, nil
	default:
		ref, err := parseObjectResource(body)
		if err != nil {
			return nil, err
		}
		return []transfer.ObjectRef{ref}, nil
	}
}

func parseObjectResource(data []byte) (transfer.ObjectRef, error) {
	var obj objectResource
	if err := json.Unmarshal(data, &obj); err != nil {
		return transfer.ObjectRef{}, fmt.Errorf("error parsing object resource: %w", err)
	}
	if obj.Name == "" {
		return transfer.ObjectRef{}, errNoPayload
	}
	return transfer.ObjectRef{
		Bucket:      obj.Bucket,
		Path:        obj.Name,
		ContentType: obj.ContentType,
		Size:        parseSize(obj.Size),
	}, nil
}

// parseSize handles GCS sending sizes as strings and everyone else as numbers.
func parseSize(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	s := strings.Trim(string(raw), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func mergeRefs(base, extra transfer.ObjectRef) transfer.ObjectRef {
	if base.Bucket == "" {
		base.Bucket = extra.Bucket
	}
	if base.Path == "" {
		base.Path = extra.Path
	}
	base.ContentType = extra.ContentType
	base.Size = extra.Size
	return base
}
