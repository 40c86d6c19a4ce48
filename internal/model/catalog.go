package model

import "time"

// VariableType tags how a represented variable was produced.
type VariableType string

const (
	VariableTypeQuestion     VariableType = "question"
	VariableTypeInternal     VariableType = "var_internal"
	VariableTypeRecalculated VariableType = "var_recalc"
)

// Distributor publishes collections of surveys.
type Distributor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Collection groups subcollections under a distributor.
type Collection struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DistributorID *int64 `json:"distributor_id,omitempty"`
	Abstract      string `json:"abstract"`
}

// Subcollection groups surveys inside a collection.
type Subcollection struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CollectionID *int64 `json:"collection_id,omitempty"`
}

// Survey is one observed administration of a questionnaire.
type Survey struct {
	ID                 int64      `json:"id"`
	ExternalRef        string     `json:"external_ref"`
	Name               string     `json:"name"`
	SubcollectionID    *int64     `json:"subcollection_id,omitempty"`
	Language           string     `json:"language"`
	Author             string     `json:"author,omitempty"`
	Producer           string     `json:"producer,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	DateLastVersion    *time.Time `json:"date_last_version,omitempty"`
	GeographicCoverage string     `json:"geographic_coverage,omitempty"`
	GeographicUnit     string     `json:"geographic_unit,omitempty"`
	UnitOfAnalysis     string     `json:"unit_of_analysis,omitempty"`
	Contact            string     `json:"contact,omitempty"`
	Citation           string     `json:"citation,omitempty"`
}

// ConceptualVariable clusters represented variables measuring the same concept.
type ConceptualVariable struct {
	ID            int64  `json:"id"`
	InternalLabel string `json:"internal_label"`
	IsUnique      bool   `json:"is_unique"`
}

// Category is one coded response option. Categories are shared by every
// variable that uses the same (code, label) pair, so editing one in place
// changes all of them.
type Category struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Label   string `json:"category_label"`
	Missing bool   `json:"missing"`
}

// RepresentedVariable is one concrete (question text, category set) pair.
type RepresentedVariable struct {
	ID             int64        `json:"id"`
	ConceptualID   int64        `json:"conceptual_var_id"`
	Type           VariableType `json:"type"`
	QuestionText   *string      `json:"question_text"`
	InternalLabel  string       `json:"internal_label"`
	IsUnique       bool         `json:"is_unique"`
	TypeCategories string       `json:"type_categories,omitempty"`
	Categories     []Category   `json:"categories"`
}

// Question returns the question text, or "" when none is attached.
func (v *RepresentedVariable) Question() string {
	if v.QuestionText == nil {
		return ""
	}
	return *v.QuestionText
}

// Binding records that a survey used a represented variable under a source
// variable name. (SurveyID, VariableName) is unique.
type Binding struct {
	ID           int64  `json:"id"`
	SurveyID     int64  `json:"survey_id"`
	VariableID   int64  `json:"variable_id"`
	VariableName string `json:"variable_name"`
	Universe     string `json:"universe"`
	Notes        string `json:"notes"`
	IsIndexed    bool   `json:"is_indexed"`
}

// CategoryStat is the observed frequency of a category for one binding.
type CategoryStat struct {
	BindingID  int64 `json:"binding_id"`
	CategoryID int64 `json:"category_id"`
	Stat       int64 `json:"stat"`
}

// BindingView is a binding joined with everything the search document needs.
type BindingView struct {
	Binding      Binding
	Survey       Survey
	CollectionID *int64
	Variable     RepresentedVariable
}

// Row is one variable as produced by the file parsers.
type Row struct {
	SurveyRef     string `json:"doi" yaml:"doi"`
	VariableName  string `json:"variable_name" yaml:"variable_name"`
	VariableLabel string `json:"variable_label" yaml:"variable_label"`
	QuestionText  string `json:"question_text" yaml:"question_text"`
	Categories    string `json:"category_label" yaml:"category_label"`
	Universe      string `json:"universe" yaml:"universe"`
	Notes         string `json:"notes" yaml:"notes"`
}

// SweepResult counts rows removed by an orphan sweep.
type SweepResult struct {
	Variables   int64 `json:"variables"`
	Conceptuals int64 `json:"conceptuals"`
	Categories  int64 `json:"categories"`
}

// CatalogCounts summarises table sizes.
type CatalogCounts struct {
	Surveys     int64 `json:"surveys"`
	Conceptuals int64 `json:"conceptuals"`
	Variables   int64 `json:"variables"`
	Categories  int64 `json:"categories"`
	Bindings    int64 `json:"bindings"`
	Unindexed   int64 `json:"unindexed"`
}
