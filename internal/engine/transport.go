package engine

import "net/http"

// Transport 把引擎嵌入 http.Client。激活完成（Claimed）之前所有请求直接交给 Base；
// 之后 bypass 请求仍原样交给 Base，其余请求由引擎应答。
//
// 引擎的 Fetcher 必须直接使用 Base（见 RoundTripperFetcher），否则请求会回到 Transport 形成环路。
type Transport struct {
	Engine *Engine
	Base   http.RoundTripper
}

// NewTransport returns a Transport; a nil base means http.DefaultTransport.
func NewTransport(engine *Engine, base http.RoundTripper) *Transport {
	return &Transport{Engine: engine, Base: base}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Engine == nil || !t.Engine.Claimed() {
		return t.base().RoundTrip(req)
	}

	ev := NewFetchEvent(req.Context(), req)
	t.Engine.Fetch(ev)
	if !ev.Handled() {
		return t.base().RoundTrip(req)
	}

	resp, err := ev.Response()
	if req.Body != nil {
		req.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return resp.HTTPResponse(req), nil
}
