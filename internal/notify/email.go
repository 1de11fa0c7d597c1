package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"math"
	texttemplate "text/template"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

// SubjectPrefix starts every email subject; the short date follows it.
const SubjectPrefix = "Daily Winter Weather Report - "

// Copy shown when the detailed narrative omits a section.
const (
	fallbackTemperature = "Temperature information"
	fallbackBestDrive   = "Check current conditions before driving"
	fallbackAvoidDrive  = "No specific warnings"
	fallbackWind        = "Moderate wind conditions"
	fallbackHighway     = "Follow posted speed limits, adjust for conditions"
	fallbackCity        = "Drive cautiously, reduce speed in poor conditions"
	fallbackVisibility  = "Visibility varies with weather conditions. Check before driving."
)

// EmailMessage is a rendered email ready for a Mailer.
type EmailMessage struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers one rendered email.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// emailView flattens the report into the values both templates print.
type emailView struct {
	LongDate           string
	Temperature        int
	FeelsLike          int
	TemperatureDetails string
	Condition          string
	Summary            string
	BestDriveTimes     string
	AvoidDriveTimes    string
	ClothingAdvice     string
	WarmthLevel        string
	SnowStormInfo      string
	WindKMH            int
	WindDirection      int
	WindInfo           string
	HighwaySpeed       string
	CitySpeed          string
	VisibilityInfo     string
	RiskLabels         models.RiskLabels
	SafetyNotes        string
	WhatToExpect       []string
}

var htmlTmpl = htmltemplate.Must(htmltemplate.New("email.html").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #4a5fc1; color: white; padding: 20px; border-radius: 10px; text-align: center; }
    .section { margin-bottom: 20px; padding: 15px; background: white; border-radius: 8px; border-left: 4px solid #4a5fc1; }
    .highlight { background: #fff3cd; }
    .warning { background: #f8d7da; }
    .footer { text-align: center; margin-top: 30px; color: #666; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Daily Winter Weather Report</h1>
      <p>{{.LongDate}}</p>
    </div>
    <div class="section">
      <h3>Temperature Details</h3>
      <p><strong>Current:</strong> {{.Temperature}}°C</p>
      <p><strong>Feels Like:</strong> {{.FeelsLike}}°C</p>
      <p>{{.TemperatureDetails}}</p>
    </div>
    <div class="section">
      <h3>Weather Condition</h3>
      <p>{{.Condition}}</p>
      <p>{{.Summary}}</p>
      {{- if .WhatToExpect}}
      <ul>{{range .WhatToExpect}}<li>{{.}}</li>{{end}}</ul>
      {{- end}}
    </div>
    <div class="section highlight">
      <h3>Best Times to Drive</h3>
      <p><strong>{{.BestDriveTimes}}</strong></p>
    </div>
    <div class="section warning">
      <h3>Times to Avoid Driving</h3>
      <p><strong>{{.AvoidDriveTimes}}</strong></p>
    </div>
    <div class="section">
      <h3>Clothing &amp; Warmth</h3>
      <p>{{.ClothingAdvice}}</p>
      <p><strong>Warmth Level:</strong> {{.WarmthLevel}}</p>
    </div>
    {{- if .SnowStormInfo}}
    <div class="section warning">
      <h3>Snow Storm Information</h3>
      <p>{{.SnowStormInfo}}</p>
    </div>
    {{- end}}
    <div class="section">
      <h3>Wind Information</h3>
      <p><strong>Speed:</strong> {{.WindKMH}} km/h</p>
      <p><strong>Direction:</strong> {{.WindDirection}}°</p>
      <p>{{.WindInfo}}</p>
    </div>
    <div class="section">
      <h3>Recommended Driving Speeds</h3>
      <p><strong>Highway:</strong> {{.HighwaySpeed}}</p>
      <p><strong>City Roads:</strong> {{.CitySpeed}}</p>
    </div>
    <div class="section">
      <h3>Road Visibility Throughout the Day</h3>
      <p>{{.VisibilityInfo}}</p>
    </div>
    <div class="section">
      <h3>Risk Assessment</h3>
      <p><strong>Road Risk:</strong> {{.RiskLabels.Road}}</p>
      <p><strong>Cold Risk:</strong> {{.RiskLabels.Cold}}</p>
      <p><strong>Slip Risk:</strong> {{.RiskLabels.Slip}}</p>
    </div>
    <div class="section">
      <h3>Safety Notes</h3>
      <p>{{.SafetyNotes}}</p>
    </div>
    <div class="footer">
      <p>Stay safe and warm!</p>
      <p>This is an automated daily weather report.</p>
    </div>
  </div>
</body>
</html>
`))

var textTmpl = texttemplate.Must(texttemplate.New("email.txt").Parse(`Daily Winter Weather Report - {{.LongDate}}

Temperature: {{.Temperature}}°C (feels like {{.FeelsLike}}°C)
{{.TemperatureDetails}}
Weather: {{.Condition}}
{{.Summary}}
{{range .WhatToExpect}}- {{.}}
{{end}}
Best Times to Drive: {{.BestDriveTimes}}
Times to Avoid: {{.AvoidDriveTimes}}
Clothing: {{.ClothingAdvice}} (Warmth Level: {{.WarmthLevel}})
{{- if .SnowStormInfo}}
Snow Storm: {{.SnowStormInfo}}
{{- end}}
Wind: {{.WindKMH}} km/h from {{.WindDirection}}°
{{.WindInfo}}
Highway Speed: {{.HighwaySpeed}}
City Speed: {{.CitySpeed}}
Visibility: {{.VisibilityInfo}}
Risk: road {{.RiskLabels.Road}}, cold {{.RiskLabels.Cold}}, slip {{.RiskLabels.Slip}}

{{.SafetyNotes}}
`))

// Subject returns the email subject for a send at now, e.g.
// "Daily Winter Weather Report - Jan 2".
func Subject(now time.Time) string {
	return SubjectPrefix + now.Format("Jan 2")
}

// RenderEmail renders the HTML and plain-text bodies. now must already be in
// the notification timezone.
func RenderEmail(report models.ComposedReport, now time.Time) (html, text string, err error) {
	view := newEmailView(report, now)

	var hb bytes.Buffer
	if err := htmlTmpl.Execute(&hb, view); err != nil {
		return "", "", fmt.Errorf("render html: %w", err)
	}
	var tb bytes.Buffer
	if err := textTmpl.Execute(&tb, view); err != nil {
		return "", "", fmt.Errorf("render text: %w", err)
	}
	return hb.String(), tb.String(), nil
}

func newEmailView(r models.ComposedReport, now time.Time) emailView {
	n := r.Narrative
	return emailView{
		LongDate:           now.Format("Monday, January 2, 2006"),
		Temperature:        round(r.Current.Temperature),
		FeelsLike:          round(r.Current.ApparentTemperature),
		TemperatureDetails: firstNonEmpty(n.TemperatureDetails, n.DailySummary, fallbackTemperature),
		Condition:          firstNonEmpty(n.WeatherCondition, string(r.Current.Condition)),
		Summary:            n.DailySummary,
		BestDriveTimes:     firstNonEmpty(n.BestDriveTimes, fallbackBestDrive),
		AvoidDriveTimes:    firstNonEmpty(n.AvoidDriveTimes, fallbackAvoidDrive),
		ClothingAdvice:     n.ClothingAdvice,
		WarmthLevel:        r.WarmthLevel,
		SnowStormInfo:      n.SnowStormInfo,
		WindKMH:            round(r.Current.WindSpeed * 3.6),
		WindDirection:      round(r.Current.WindDirection),
		WindInfo:           firstNonEmpty(n.WindInfo, fallbackWind),
		HighwaySpeed:       firstNonEmpty(n.HighwaySpeed, fallbackHighway),
		CitySpeed:          firstNonEmpty(n.CitySpeed, fallbackCity),
		VisibilityInfo:     firstNonEmpty(n.VisibilityInfo, fallbackVisibility),
		RiskLabels:         r.RiskLabels,
		SafetyNotes:        n.SafetyNotes,
		WhatToExpect:       n.WhatToExpect,
	}
}

// EmailChannel sends the report as a multipart HTML/plain-text email.
type EmailChannel struct {
	mailer   Mailer
	from, to string
	loc      *time.Location
}

// NewEmailChannel returns an email channel rendering dates in loc (UTC when nil).
func NewEmailChannel(mailer Mailer, from, to string, loc *time.Location) *EmailChannel {
	if loc == nil {
		loc = time.UTC
	}
	return &EmailChannel{mailer: mailer, from: from, to: to, loc: loc}
}

func (c *EmailChannel) Name() string      { return ChannelEmail }
func (c *EmailChannel) Recipient() string { return c.to }

// Send renders the report and hands it to the mailer.
func (c *EmailChannel) Send(ctx context.Context, report models.ComposedReport, now time.Time) error {
	local := now.In(c.loc)
	html, text, err := RenderEmail(report, local)
	if err != nil {
		return err
	}
	return c.mailer.Send(ctx, EmailMessage{
		From:    c.from,
		To:      c.to,
		Subject: Subject(local),
		HTML:    html,
		Text:    text,
	})
}

func round(v float64) int {
	return int(math.Round(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
