package sonos

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const soapBodyTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body><u:%s xmlns:u="%s">%s</u:%s></s:Body></s:Envelope>`

// soapCall performs one UPnP action against a player and returns the inner
// response body XML.
func (s *Service) soapCall(ctx context.Context, host string, svc upnpService, action string, args string) ([]byte, error) {
	body := fmt.Sprintf(soapBodyTemplate, action, svc.Type, args, action)
	url := fmt.Sprintf("http://%s:1400%s", host, svc.ControlURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf(`"%s#%s"`, svc.Type, action))

	res, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	envelope := soapEnvelope{}
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed soap response from %s: %w", host, err)
	}
	if res.StatusCode != http.StatusOK {
		fault := soapFault{}
		if err := xml.Unmarshal(envelope.Body.Inner, &fault); err == nil && fault.Detail.UPnPError.ErrorCode != "" {
			return nil, fmt.Errorf("upnp error %s from %s during %s", fault.Detail.UPnPError.ErrorCode, host, action)
		}
		return nil, fmt.Errorf("soap call %s to %s failed with status %d", action, host, res.StatusCode)
	}
	return envelope.Body.Inner, nil
}

// soapArgs renders action arguments in order; values are XML-escaped.
func soapArgs(pairs ...string) string {
	var b bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString("<" + pairs[i] + ">")
		xml.EscapeText(&b, []byte(pairs[i+1]))
		b.WriteString("</" + pairs[i] + ">")
	}
	return b.String()
}

// extractValue pulls one element's text out of a SOAP response body.
func extractValue(body []byte, element string) string {
	open := "<" + element + ">"
	closing := "</" + element + ">"
	raw := string(body)
	i := strings.Index(raw, open)
	j := strings.Index(raw, closing)
	if i < 0 || j < i {
		return ""
	}
	return unescapeXML(raw[i+len(open) : j])
}

func unescapeXML(in string) string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
	return r.Replace(in)
}
