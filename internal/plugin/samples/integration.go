package samples

import "arius/internal/plugin"

// NoIntegrationPlugin has an identity and nothing else.
type NoIntegrationPlugin struct{ plugin.Base }

func NewNoIntegrationPlugin() *NoIntegrationPlugin {
	return &NoIntegrationPlugin{Base: plugin.Base{M: plugin.Meta{Name: "NoIntegrationPlugin"}}}
}

// WrongIntegrationPlugin declares the urls mixin without providing URLs.
// It is indexed but never granted the capability.
type WrongIntegrationPlugin struct{ plugin.Base }

func NewWrongIntegrationPlugin() *WrongIntegrationPlugin {
	return &WrongIntegrationPlugin{Base: plugin.Base{M: plugin.Meta{Name: "WrongIntegrationPlugin"}}}
}

func (p *WrongIntegrationPlugin) Mixins() []plugin.Tag { return []plugin.Tag{plugin.TagURLs} }

// IntegrationPlugin is a working urls plugin.
type IntegrationPlugin struct{ plugin.Base }

func NewIntegrationPlugin() *IntegrationPlugin {
	return &IntegrationPlugin{Base: plugin.Base{M: plugin.Meta{
		Name:  "SampleIntegrationPlugin",
		Slug:  "sample",
		Title: "Sample Integration",
	}}}
}

func (p *IntegrationPlugin) Mixins() []plugin.Tag { return []plugin.Tag{plugin.TagURLs} }

func (p *IntegrationPlugin) URLs() []plugin.Route {
	return []plugin.Route{{Path: "ho/he/", Name: "hihi"}}
}
