// Package seed ships the built-in requirement corpus used to bootstrap a
// fresh deployment and to exercise the engine in tests. Production corpora
// arrive through the catalog load API from the legal-content ingestion
// collaborator; the shapes are identical.
package seed

import (
	"time"

	"conformo/internal/catalog/models"
	"conformo/pkg/domain"
)

var seededAt = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

type ruleSpec struct {
	code        string
	description string
	basis       string
	theme       string
	subtheme    string
	risk        models.RiskLevel
	agency      string
	prefixes    []string
	states      []string
}

func build(spec ruleSpec) models.LegalRequirement {
	return models.LegalRequirement{
		Code:            domain.RequirementCode(spec.code),
		Kind:            models.KindRequisitoLegal,
		Description:     spec.description,
		LegalBasis:      spec.basis,
		Scope:           []string{"sst"},
		Theme:           spec.theme,
		Subtheme:        spec.subtheme,
		RiskLevel:       spec.risk,
		EnforcingAgency: spec.agency,
		Applicability: models.Applicability{
			Unconditional: len(spec.prefixes) == 0 && len(spec.states) == 0,
			CNAEPrefixes:  spec.prefixes,
			States:        spec.states,
		},
		EffectiveFrom: seededAt,
		UpdatedAt:     seededAt,
	}
}

// Requirements returns the seed corpus: the federal NR baseline, CNAE
// division overlays, and state agency overlays.
func Requirements() []models.LegalRequirement {
	specs := []ruleSpec{
		// Federal baseline: applies to every regulated company.
		{code: "RL-NR01", description: "Gerenciamento de riscos ocupacionais (GRO/PGR)", basis: "NR-01, Portaria SEPRT 6.730/2020", theme: "SST", subtheme: "Gestão de riscos", risk: models.RiskAlto, agency: "MTE"},
		{code: "RL-NR05", description: "Comissão Interna de Prevenção de Acidentes (CIPA)", basis: "NR-05", theme: "SST", subtheme: "Organização", risk: models.RiskMedio, agency: "MTE"},
		{code: "RL-NR06", description: "Fornecimento e gestão de EPI", basis: "NR-06", theme: "SST", subtheme: "Proteção individual", risk: models.RiskAlto, agency: "MTE"},
		{code: "RL-NR07", description: "Programa de Controle Médico de Saúde Ocupacional (PCMSO)", basis: "NR-07", theme: "Saúde ocupacional", subtheme: "Exames", risk: models.RiskAlto, agency: "MTE"},
		{code: "RL-NR09", description: "Avaliação e controle de agentes físicos, químicos e biológicos", basis: "NR-09", theme: "SST", subtheme: "Higiene ocupacional", risk: models.RiskMedio, agency: "MTE"},
		{code: "RL-NR23", description: "Proteção contra incêndios", basis: "NR-23", theme: "SST", subtheme: "Emergências", risk: models.RiskMedio, agency: "MTE"},

		// CNAE division 50: transporte aquaviário.
		{code: "RL-ANTAQ-001", description: "Outorga e conformidade operacional para navegação interior", basis: "Resolução ANTAQ 912/2022", theme: "Regulatório setorial", subtheme: "Navegação", risk: models.RiskAlto, agency: "ANTAQ", prefixes: []string{"50"}},
		{code: "RL-NORMAM-001", description: "Normas da autoridade marítima para embarcações", basis: "NORMAM-01/DPC", theme: "Regulatório setorial", subtheme: "Navegação", risk: models.RiskCritico, agency: "Marinha do Brasil", prefixes: []string{"50"}},
		{code: "RL-NR30", description: "Segurança e saúde no trabalho aquaviário", basis: "NR-30", theme: "SST", subtheme: "Trabalho aquaviário", risk: models.RiskAlto, agency: "MTE", prefixes: []string{"50"}},

		// CNAE division 49: transporte terrestre.
		{code: "RL-ANTT-001", description: "Registro nacional de transportadores rodoviários de carga", basis: "Resolução ANTT 5.982/2022", theme: "Regulatório setorial", subtheme: "Transporte rodoviário", risk: models.RiskMedio, agency: "ANTT", prefixes: []string{"49"}},

		// CNAE division 86: atividades de atenção à saúde humana.
		{code: "RL-ANVISA-001", description: "Licenciamento sanitário de serviços de saúde", basis: "RDC ANVISA 63/2011", theme: "Vigilância sanitária", subtheme: "Licenciamento", risk: models.RiskCritico, agency: "ANVISA", prefixes: []string{"86"}},
		{code: "RL-NR32", description: "Segurança e saúde no trabalho em serviços de saúde", basis: "NR-32", theme: "SST", subtheme: "Serviços de saúde", risk: models.RiskAlto, agency: "MTE", prefixes: []string{"86"}},

		// State overlays.
		{code: "RL-IPAAM-001", description: "Licenciamento ambiental estadual no Amazonas", basis: "Lei Estadual AM 3.785/2012", theme: "Meio ambiente", subtheme: "Licenciamento", risk: models.RiskAlto, agency: "IPAAM", states: []string{"AM"}},
		{code: "RL-AM-CBMAM", description: "Auto de vistoria do Corpo de Bombeiros do Amazonas", basis: "Lei Estadual AM 2.812/2003", theme: "Segurança predial", subtheme: "Vistoria", risk: models.RiskMedio, agency: "CBMAM", states: []string{"AM"}},
		{code: "RL-CETESB-001", description: "Licenciamento ambiental estadual em São Paulo", basis: "Decreto SP 8.468/1976", theme: "Meio ambiente", subtheme: "Licenciamento", risk: models.RiskAlto, agency: "CETESB", states: []string{"SP"}},
		{code: "RL-INEA-001", description: "Licenciamento ambiental estadual no Rio de Janeiro", basis: "Lei Estadual RJ 5.101/2007", theme: "Meio ambiente", subtheme: "Licenciamento", risk: models.RiskAlto, agency: "INEA", states: []string{"RJ"}},
	}

	rules := make([]models.LegalRequirement, 0, len(specs))
	for _, spec := range specs {
		rules = append(rules, build(spec))
	}
	return rules
}

// FederalCodes lists the unconditional baseline codes, in seed order. Tests
// use it to assert the matched-set union without repeating literals.
func FederalCodes() []domain.RequirementCode {
	return []domain.RequirementCode{"RL-NR01", "RL-NR05", "RL-NR06", "RL-NR07", "RL-NR09", "RL-NR23"}
}
