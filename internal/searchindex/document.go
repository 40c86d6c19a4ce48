package searchindex

import (
	"strconv"

	"github.com/sells-group/ddi-catalog/internal/model"
)

// DefaultIndex is the name of the binding index.
const DefaultIndex = "binding_survey_variables"

// Document is the search representation of one binding.
type Document struct {
	VariableName        string      `json:"variable_name"`
	Notes               string      `json:"notes"`
	Universe            string      `json:"universe"`
	IsQuestionTextEmpty bool        `json:"is_question_text_empty"`
	Survey              SurveyDoc   `json:"survey"`
	Variable            VariableDoc `json:"variable"`
}

// SurveyDoc is the survey subset carried by a Document.
type SurveyDoc struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	ExternalRef   string            `json:"external_ref"`
	StartDate     *string           `json:"start_date"`
	Subcollection *SubcollectionDoc `json:"subcollection"`
}

// SubcollectionDoc locates a survey in the collection hierarchy.
type SubcollectionDoc struct {
	ID           int64  `json:"id"`
	CollectionID *int64 `json:"collection_id"`
}

// VariableDoc is the represented variable subset carried by a Document.
type VariableDoc struct {
	QuestionText  string        `json:"question_text"`
	InternalLabel string        `json:"internal_label"`
	Categories    []CategoryDoc `json:"categories"`
}

// CategoryDoc is one category of a VariableDoc.
type CategoryDoc struct {
	Code  string `json:"code"`
	Label string `json:"category_label"`
}

// DocumentID returns the index id of a binding.
func DocumentID(bindingID int64) string {
	return strconv.FormatInt(bindingID, 10)
}

// Serialize builds the document of a binding.
func Serialize(v model.BindingView) Document {
	doc := Document{
		VariableName:        v.Binding.VariableName,
		Notes:               v.Binding.Notes,
		Universe:            v.Binding.Universe,
		IsQuestionTextEmpty: v.Variable.Question() == "",
		Survey: SurveyDoc{
			ID:          v.Survey.ID,
			Name:        v.Survey.Name,
			ExternalRef: v.Survey.ExternalRef,
		},
		Variable: VariableDoc{
			QuestionText:  v.Variable.Question(),
			InternalLabel: v.Variable.InternalLabel,
			Categories:    make([]CategoryDoc, 0, len(v.Variable.Categories)),
		},
	}
	if v.Survey.StartDate != nil {
		d := v.Survey.StartDate.Format("2006-01-02")
		doc.Survey.StartDate = &d
	}
	if v.Survey.SubcollectionID != nil {
		doc.Survey.Subcollection = &SubcollectionDoc{ID: *v.Survey.SubcollectionID, CollectionID: v.CollectionID}
	}
	for _, c := range v.Variable.Categories {
		doc.Variable.Categories = append(doc.Variable.Categories, CategoryDoc{Code: c.Code, Label: c.Label})
	}
	return doc
}

// indexMapping holds the settings and mappings of the binding index. French
// elided articles are stripped before tokenizing, and accents folded, so
// "l'âge" and "age" match.
const indexMapping = `{
  "settings": {
    "index": {
      "number_of_shards": 1,
      "number_of_replicas": 0,
      "analysis": {
        "char_filter": {
          "elided_articles": {
            "type": "pattern_replace",
            "pattern": "(?i)\\b(l|d|j|qu|n|c|m|s|t)'",
            "replacement": ""
          }
        },
        "filter": {
          "asciifolding_filter": {"type": "asciifolding", "preserve_original": false},
          "french_stop": {"type": "stop", "stopwords": "_french_"}
        },
        "analyzer": {
          "combined_analyzer": {
            "type": "custom",
            "tokenizer": "standard",
            "char_filter": ["elided_articles"],
            "filter": ["lowercase", "asciifolding_filter", "french_stop"]
          }
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "variable_name": {"type": "text"},
      "notes": {"type": "text"},
      "universe": {"type": "text"},
      "is_question_text_empty": {"type": "boolean"},
      "survey": {
        "properties": {
          "id": {"type": "integer"},
          "name": {"type": "text"},
          "external_ref": {"type": "text"},
          "start_date": {"type": "date"},
          "subcollection": {
            "properties": {
              "id": {"type": "integer"},
              "collection_id": {"type": "integer"}
            }
          }
        }
      },
      "variable": {
        "properties": {
          "question_text": {"type": "text", "analyzer": "combined_analyzer"},
          "internal_label": {"type": "text", "analyzer": "combined_analyzer"},
          "categories": {
            "type": "nested",
            "properties": {
              "code": {"type": "text"},
              "category_label": {"type": "text", "analyzer": "combined_analyzer"}
            }
          }
        }
      }
    }
  }
}`
