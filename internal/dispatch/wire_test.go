package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"reqgate/pkg/domain"
)

func TestEncodeDetails(t *testing.T) {
	base := domain.DetailsBase{
		ID: 7, URL: "https://example.com/a", Method: "POST",
		ResourceType: "XHR", Referrer: "https://example.com/", Timestamp: 1700000000000,
	}

	t.Run("before request", func(t *testing.T) {
		b := EncodeDetails(&domain.BeforeRequestDetails{DetailsBase: base, UploadData: []byte(`{"k":"v"}`)})
		require.True(t, gjson.ValidBytes(b))
		root := gjson.ParseBytes(b)
		assert.Equal(t, "beforeRequest", root.Get("event").String())
		assert.Equal(t, int64(7), root.Get("id").Int())
		assert.Equal(t, "https://example.com/a", root.Get("url").String())
		assert.Equal(t, "POST", root.Get("method").String())
		assert.Equal(t, "XHR", root.Get("resourceType").String())
		assert.Equal(t, `{"k":"v"}`, root.Get("uploadData").String())
	})

	t.Run("headers dot escaped", func(t *testing.T) {
		h := domain.Header{}
		h.Set("x.custom.header", "v")
		b := EncodeDetails(&domain.BeforeSendHeadersDetails{DetailsBase: base, RequestHeaders: h})
		root := gjson.ParseBytes(b)
		assert.Equal(t, "v", root.Get(`requestHeaders.x\.custom\.header`).String())
	})

	t.Run("headers received", func(t *testing.T) {
		h := domain.Header{}
		h.Set("Content-Type", "text/plain")
		b := EncodeDetails(&domain.HeadersReceivedDetails{
			DetailsBase: base, StatusLine: "HTTP/1.1 200 OK", StatusCode: 200, ResponseHeaders: h,
		})
		root := gjson.ParseBytes(b)
		assert.Equal(t, "headersReceived", root.Get("event").String())
		assert.Equal(t, int64(200), root.Get("statusCode").Int())
		assert.Equal(t, "text/plain", root.Get("responseHeaders.content-type").String())
	})

	t.Run("error occurred", func(t *testing.T) {
		b := EncodeDetails(&domain.ErrorOccurredDetails{DetailsBase: base, Error: "net::ERR", IP: "1.2.3.4"})
		root := gjson.ParseBytes(b)
		assert.Equal(t, "errorOccurred", root.Get("event").String())
		assert.Equal(t, "net::ERR", root.Get("error").String())
		assert.Equal(t, "1.2.3.4", root.Get("ip").String())
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("empty means untouched", func(t *testing.T) {
		rec := ParseResponse(nil)
		assert.False(t, rec.Cancel)
		assert.Nil(t, rec.RequestHeaders)
		assert.Nil(t, rec.ResponseHeaders)
	})

	t.Run("multi value header array joined", func(t *testing.T) {
		rec := ParseResponse([]byte(`{"responseHeaders":{"set-cookie":["a=1","b=2"]}}`))
		require.NotNil(t, rec.ResponseHeaders)
		assert.Equal(t, "a=1, b=2", rec.ResponseHeaders.Get("set-cookie"))
	})

	t.Run("wrong types ignored", func(t *testing.T) {
		rec := ParseResponse([]byte(`{"cancel":"true","redirectURL":1,"statusLine":{},"requestHeaders":"x"}`))
		assert.False(t, rec.Cancel)
		assert.Empty(t, rec.RedirectURL)
		assert.Empty(t, rec.StatusLine)
		assert.Nil(t, rec.RequestHeaders)
	})
}

func TestStatusCodeFromLine(t *testing.T) {
	assert.Equal(t, 404, statusCodeFromLine("HTTP/1.1 404 Not Found"))
	assert.Equal(t, 200, statusCodeFromLine("HTTP/2 200"))
	assert.Equal(t, 0, statusCodeFromLine("garbage"))
	assert.Equal(t, 0, statusCodeFromLine("HTTP/1.1 abc OK"))
}
