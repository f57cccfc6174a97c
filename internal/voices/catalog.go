package voices

// VoiceOption is a selectable voice
type VoiceOption = Voice

// RangeOption describes a numeric slider
type RangeOption struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// ModelOption is a selectable synthesis model
type ModelOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LanguageOption is a selectable language
type LanguageOption struct {
	Name string `json:"name"`
}

// Catalog is the read-only set of options the settings are picked from
type Catalog struct {
	Voices struct {
		Options []VoiceOption `json:"options"`
		Default int           `json:"default"`
	} `json:"voices"`
	Temperature RangeOption `json:"temperature"`
	Models      struct {
		Options []ModelOption `json:"options"`
		Default string        `json:"default"`
	} `json:"models"`
	Speed    RangeOption `json:"speed"`
	Language struct {
		Options []LanguageOption `json:"options"`
		Default string           `json:"default"`
	} `json:"language"`
}

var voiceOptions = []VoiceOption{
	{
		Name:         "Angelo",
		Accent:       "american",
		Language:     "English (US)",
		LanguageCode: "EN-US",
		Value:        "s3://voice-cloning-zero-shot/baf1ef41-36b6-428c-9bdf-50ba54682bd8/original/manifest.json",
		Sample:       "https://peregrine-samples.s3.us-east-1.amazonaws.com/parrot-samples/Angelo_Sample.wav",
		Gender:       "male",
		Style:        "Conversational",
	},
	{
		Name:         "Deedee",
		Accent:       "american",
		Language:     "English (US)",
		LanguageCode: "EN-US",
		Value:        "s3://voice-cloning-zero-shot/e040bd1b-f190-4bdb-83f0-75ef85b18f84/original/manifest.json",
		Sample:       "https://peregrine-samples.s3.us-east-1.amazonaws.com/parrot-samples/Deedee_Sample.wav",
		Gender:       "female",
		Style:        "Conversational",
	},
	{
		Name:         "Jennifer",
		Accent:       "american",
		Language:     "English (US)",
		LanguageCode: "EN-US",
		Value:        "s3://voice-cloning-zero-shot/801a663f-efd0-4254-98d0-5c175514c3e8/jennifer/manifest.json",
		Sample:       "https://peregrine-samples.s3.amazonaws.com/parrot-samples/jennifer.wav",
		Gender:       "female",
		Style:        "Conversational",
	},
	{
		Name:         "Briggs",
		Accent:       "american",
		Language:     "English (US)",
		LanguageCode: "EN-US",
		Value:        "s3://voice-cloning-zero-shot/71cdb799-1e03-41c6-8a05-f7cd55134b0b/original/manifest.json",
		Sample:       "https://peregrine-samples.s3.us-east-1.amazonaws.com/parrot-samples/Briggs_Sample.wav",
		Gender:       "male",
		Style:        "Narrative",
	},
	{
		Name:         "Samara",
		Accent:       "american",
		Language:     "English (US)",
		LanguageCode: "EN-US",
		Value:        "s3://voice-cloning-zero-shot/90217770-a480-4a91-b1ea-df00f4d4c29d/original/manifest.json",
		Sample:       "https://parrot-samples.s3.amazonaws.com/gargamel/Samara.wav",
		Gender:       "female",
		Style:        "Conversational",
	},
}

var languages = []string{
	"afrikaans", "arabic", "bengali", "bulgarian", "croatian", "czech",
	"danish", "dutch", "english", "french", "galician", "german", "greek",
	"hebrew", "hindi", "hungarian", "indonesian", "italian", "japanese",
	"korean", "malay", "mandarin", "polish", "portuguese", "russian",
	"serbian", "spanish", "swedish", "tagalog", "thai", "turkish",
	"ukrainian", "urdu", "xhosa",
}

// DefaultCatalog returns a fresh copy of the built-in catalog
func DefaultCatalog() Catalog {
	var c Catalog
	c.Voices.Options = append([]VoiceOption(nil), voiceOptions...)
	c.Voices.Default = 1
	c.Temperature = RangeOption{Min: 0, Max: 2, Step: 0.1, Default: 0.5}
	c.Models.Options = []ModelOption{
		{Name: "Play3.0-mini", Value: "Play3.0-mini"},
		{Name: "Play Dialog", Value: "PlayDialog"},
	}
	c.Models.Default = "Play3.0-mini"
	c.Speed = RangeOption{Min: 0.1, Max: 5, Step: 0.1, Default: 1}
	for _, l := range languages {
		c.Language.Options = append(c.Language.Options, LanguageOption{Name: l})
	}
	c.Language.Default = "english"
	return c
}

// DefaultVoice returns the voice at the catalog's default index
func (c Catalog) DefaultVoice() Voice {
	return c.Voices.Options[c.Voices.Default]
}

// FindVoice looks a voice up by its backend identifier
func (c Catalog) FindVoice(value string) (Voice, bool) {
	for _, v := range c.Voices.Options {
		if v.Value == value {
			return v, true
		}
	}
	return Voice{}, false
}

// Model looks a model up by value
func (c Catalog) Model(value string) (ModelOption, bool) {
	for _, m := range c.Models.Options {
		if m.Value == value {
			return m, true
		}
	}
	return ModelOption{}, false
}
