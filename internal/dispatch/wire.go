package dispatch

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"reqgate/pkg/domain"
)

// EncodeDetails 把任一事件明细变体序列化为监听器调用服务的线格式
func EncodeDetails(d domain.EventDetails) []byte {
	b := []byte(`{}`)
	base := d.Common()
	b, _ = sjson.SetBytes(b, "event", d.Kind().String())
	b, _ = sjson.SetBytes(b, "id", uint64(base.ID))
	b, _ = sjson.SetBytes(b, "url", base.URL)
	b, _ = sjson.SetBytes(b, "method", base.Method)
	b, _ = sjson.SetBytes(b, "timestamp", base.Timestamp)
	b, _ = sjson.SetBytes(b, "resourceType", base.ResourceType)
	if base.Referrer != "" {
		b, _ = sjson.SetBytes(b, "referrer", base.Referrer)
	}

	switch v := d.(type) {
	case *domain.BeforeRequestDetails:
		if len(v.UploadData) > 0 {
			b, _ = sjson.SetBytes(b, "uploadData", string(v.UploadData))
		}
	case *domain.BeforeSendHeadersDetails:
		b = setHeaders(b, "requestHeaders", v.RequestHeaders)
	case *domain.SendHeadersDetails:
		b = setHeaders(b, "requestHeaders", v.RequestHeaders)
	case *domain.HeadersReceivedDetails:
		b, _ = sjson.SetBytes(b, "statusLine", v.StatusLine)
		b, _ = sjson.SetBytes(b, "statusCode", v.StatusCode)
		b = setHeaders(b, "responseHeaders", v.ResponseHeaders)
	case *domain.BeforeRedirectDetails:
		b, _ = sjson.SetBytes(b, "redirectURL", v.RedirectURL)
		b, _ = sjson.SetBytes(b, "statusLine", v.StatusLine)
		b, _ = sjson.SetBytes(b, "statusCode", v.StatusCode)
		b = setHeaders(b, "responseHeaders", v.ResponseHeaders)
		b = setExtra(b, v.IP, v.FromCache)
	case *domain.ResponseStartedDetails:
		b, _ = sjson.SetBytes(b, "statusLine", v.StatusLine)
		b, _ = sjson.SetBytes(b, "statusCode", v.StatusCode)
		b = setHeaders(b, "responseHeaders", v.ResponseHeaders)
		b = setExtra(b, v.IP, v.FromCache)
	case *domain.CompletedDetails:
		b, _ = sjson.SetBytes(b, "statusLine", v.StatusLine)
		b, _ = sjson.SetBytes(b, "statusCode", v.StatusCode)
		b = setHeaders(b, "responseHeaders", v.ResponseHeaders)
		b = setExtra(b, v.IP, v.FromCache)
	case *domain.ErrorOccurredDetails:
		b, _ = sjson.SetBytes(b, "error", v.Error)
		b = setExtra(b, v.IP, v.FromCache)
	}
	return b
}

func setHeaders(b []byte, key string, h domain.Header) []byte {
	if h == nil {
		return b
	}
	for k, v := range h {
		b, _ = sjson.SetBytes(b, key+"."+escapeKey(k), v)
	}
	if len(h) == 0 {
		b, _ = sjson.SetRawBytes(b, key, []byte(`{}`))
	}
	return b
}

// escapeKey sjson 路径中 . 为分隔符，头部名里的点需要转义
func escapeKey(k string) string {
	return strings.ReplaceAll(k, ".", `\.`)
}

func setExtra(b []byte, ip string, fromCache bool) []byte {
	if ip != "" {
		b, _ = sjson.SetBytes(b, "ip", ip)
	}
	b, _ = sjson.SetBytes(b, "fromCache", fromCache)
	return b
}

// ParseResponse 解析监听器应答线格式，结构不合法的字段按未触碰忽略
func ParseResponse(payload []byte) *domain.ResponseRecord {
	rec := &domain.ResponseRecord{}
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return rec
	}
	root := gjson.ParseBytes(payload)
	if v := root.Get("cancel"); v.Type == gjson.True || v.Type == gjson.False {
		rec.Cancel = v.Bool()
	}
	if v := root.Get("redirectURL"); v.Exists() && v.Type == gjson.String {
		rec.RedirectURL = v.String()
	}
	if v := root.Get("requestHeaders"); v.Exists() && v.IsObject() {
		h := parseHeaders(v)
		rec.RequestHeaders = &h
	}
	if v := root.Get("responseHeaders"); v.Exists() && v.IsObject() {
		h := parseHeaders(v)
		rec.ResponseHeaders = &h
	}
	if v := root.Get("statusLine"); v.Exists() && v.Type == gjson.String {
		rec.StatusLine = v.String()
	}
	return rec
}

func parseHeaders(v gjson.Result) domain.Header {
	h := make(domain.Header)
	v.ForEach(func(key, val gjson.Result) bool {
		switch val.Type {
		case gjson.String:
			h.Set(key.String(), val.String())
		case gjson.JSON:
			// 兼容 {"content-type": ["text/plain"]} 形式的多值头
			if val.IsArray() {
				arr := val.Array()
				parts := make([]string, 0, len(arr))
				for _, e := range arr {
					parts = append(parts, e.String())
				}
				h.Set(key.String(), strings.Join(parts, ", "))
			}
		default:
			h.Set(key.String(), val.String())
		}
		return true
	})
	return h
}

// statusCodeFromLine 从状态行解析状态码，解析失败返回 0
func statusCodeFromLine(line string) int {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return 0
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return code
}
