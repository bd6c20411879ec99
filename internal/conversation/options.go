package conversation

import (
	"fmt"

	"github.com/daribar/surveybot/internal/models"
)

// Fixed answer-option catalogs, one per assistant persona. When a reply carries
// a question marker, the marker's index selects an entry here and the options
// are attached to the reply envelope so the client can render answer buttons.

var registrationQuestions = map[int]models.QuestionOptions{
	1: {Options: []string{}, CustomOptionAllowed: true},
	2: {Options: []string{"Да", "Нет"}, CustomOptionAllowed: false},
	3: {Options: []string{}, CustomOptionAllowed: true},
	4: {Options: []string{"Да", "Нет"}, CustomOptionAllowed: true},
	5: {Options: []string{"Да", "Нет"}, CustomOptionAllowed: true},
}

var dailySurveyQuestions = map[int]models.QuestionOptions{
	1: {Options: []string{"Да", "Нет"}, CustomOptionAllowed: true},
	2: {Options: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}, CustomOptionAllowed: false},
	3: {
		Options: []string{
			"висок",
			"теменная область",
			"бровь",
			"глаз",
			"верхняя челюсть",
			"нижняя челюсть",
			"лоб",
			"затылок",
		},
		CustomOptionAllowed: true,
	},
	4: {
		Options: []string{
			"с одной стороны справа",
			"с одной стороны слева",
			"с двух сторон",
		},
		CustomOptionAllowed: true,
	},
	5: {
		Options: []string{
			"давящая",
			"пульсирующая",
			"сжимающая",
			"ноющая",
			"ощущение прострела",
			"режущая",
			"тупая",
			"пронизывающая",
			"острая",
			"жгучая",
		},
		CustomOptionAllowed: true,
	},
}

// LookupQuestion resolves a question index against the catalog for a role.
func LookupQuestion(role models.AssistantRole, index int) (models.QuestionOptions, error) {
	catalog := dailySurveyQuestions
	if role == models.RoleRegistration {
		catalog = registrationQuestions
	}
	entry, ok := catalog[index]
	if !ok {
		return models.QuestionOptions{}, fmt.Errorf("%w: role %s index %d", models.ErrUnknownQuestionIndex, role, index)
	}
	return entry, nil
}
