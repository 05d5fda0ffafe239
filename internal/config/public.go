package config

// PublicView is the subset of Config safe to expose over HTTP. It omits
// filesystem paths and server tuning.
type PublicView struct {
	Env        Environment  `json:"env"`
	SiteURL    string       `json:"siteUrl"`
	OutputMode OutputMode   `json:"outputMode"`
	SourceMaps bool         `json:"sourceMaps"`
	StrictCSP  bool         `json:"strictCsp"`
	Telemetry  bool         `json:"telemetry"`
	Analyzer   bool         `json:"analyzer"`
	Images     PublicImages `json:"images"`
}

// PublicImages mirrors ImagesConfig for JSON output.
type PublicImages struct {
	Formats         []string `json:"formats"`
	DeviceSizes     []int    `json:"deviceSizes"`
	ImageSizes      []int    `json:"imageSizes"`
	RemoteHosts     []string `json:"remoteHosts"`
	MinimumCacheTTL int64    `json:"minimumCacheTTL"`
}

// Public returns a JSON-friendly snapshot of the configuration.
func (c Config) Public() PublicView {
	hosts := make([]string, 0, len(c.Images.RemotePatterns))
	for _, p := range c.Images.RemotePatterns {
		hosts = append(hosts, p.Hostname)
	}

	view := PublicView{
		Env:        c.Env,
		OutputMode: c.OutputMode,
		SourceMaps: c.SourceMaps,
		StrictCSP:  c.StrictCSP,
		Telemetry:  c.Telemetry != nil,
		Analyzer:   c.Analyzer != nil,
		Images: PublicImages{
			Formats:         append([]string(nil), c.Images.Formats...),
			DeviceSizes:     append([]int(nil), c.Images.DeviceSizes...),
			ImageSizes:      append([]int(nil), c.Images.ImageSizes...),
			RemoteHosts:     hosts,
			MinimumCacheTTL: int64(c.Images.MinimumCacheTTL.Seconds()),
		},
	}
	if c.SiteURL != nil {
		view.SiteURL = c.SiteURL.String()
	}
	return view
}
