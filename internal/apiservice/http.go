package apiservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type httpResult struct {
	status int
	body   []byte
}

// do executes one live HTTP call. It does not consult the breaker.
func (s *Service) do(ctx context.Context, req Request) (*httpResult, error) {
	name := s.provider.Name()
	method := req.method()

	hreq := protocol.AcquireRequest()
	hresp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(hreq)
		protocol.ReleaseResponse(hresp)
	}()

	uri := strings.TrimRight(s.provider.BaseURL(), "/") + "/" + strings.TrimLeft(req.Endpoint, "/")
	hreq.SetMethod(method)
	hreq.Header.Set("Accept", "application/json")
	if auth := s.provider.AuthHeader(); auth != "" {
		hreq.Header.Set("Authorization", auth)
	}

	switch {
	case method == consts.MethodGet:
		if q := encodeQuery(req.Params); q != "" {
			uri += "?" + q
		}
	case len(req.Files) > 0:
		body, contentType, err := encodeMultipart(req)
		if err != nil {
			return nil, &Error{Code: CodeRequestFailed, Service: name, Endpoint: req.Endpoint, Message: err.Error(), Err: err}
		}
		hreq.Header.SetContentTypeBytes([]byte(contentType))
		hreq.SetBody(body)
	default:
		body, err := sonic.Marshal(s.provider.Body(req))
		if err != nil {
			return nil, &Error{Code: CodeRequestFailed, Service: name, Endpoint: req.Endpoint, Message: "encode body: " + err.Error(), Err: err}
		}
		hreq.Header.SetContentTypeBytes([]byte("application/json"))
		hreq.SetBody(body)
	}
	hreq.SetRequestURI(uri)

	if err := s.client.DoTimeout(ctx, hreq, hresp, s.timeout); err != nil {
		code := CodeRequestFailed
		if isTimeout(err) {
			code = CodeTimeout
		}
		return nil, &Error{Code: code, Service: name, Endpoint: req.Endpoint, Message: err.Error(), Err: err}
	}

	res := &httpResult{
		status: hresp.StatusCode(),
		body:   append([]byte(nil), hresp.Body()...),
	}
	if res.status < 200 || res.status >= 300 {
		return res, &Error{
			Code:       CodeHTTPError,
			Service:    name,
			Endpoint:   req.Endpoint,
			StatusCode: res.status,
			Message:    truncateMessage(string(res.body)),
		}
	}
	if !sonic.Valid(res.body) {
		return res, &Error{Code: CodeInvalidResponse, Service: name, Endpoint: req.Endpoint, StatusCode: res.status, Message: "response is not valid JSON"}
	}
	return res, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, fmt.Sprint(v))
	}
	return values.Encode()
}

func encodeMultipart(req Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fmt.Sprint(req.Params[k])); err != nil {
			return nil, "", err
		}
	}
	for _, f := range req.Files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func truncateMessage(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + truncatedSuffix
}
