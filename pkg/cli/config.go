package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/artifact"
	"github.com/m-mizutani/kappa/pkg/interfaces"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/planner"
	"github.com/m-mizutani/kappa/pkg/policy"
	"github.com/m-mizutani/kappa/pkg/repository"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/m-mizutani/kappa/pkg/tool/predict"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	backendGemini = "gemini"
	backendOpenAI = "openai"

	defaultGeminiLocation = "us-central1"
	defaultDatabase       = "(default)"
)

// config holds configuration values
type config struct {
	logLevel string
	profile  string

	// LLM
	backend        string
	agent          model.AgentConfig
	geminiProject  string
	geminiLocation string

	// Artifacts
	artifactDir     string
	bucket          string
	prefix          string
	credentialsFile string
	featuresKey     string
	modelKey        string
	policyDir       string

	// History
	project  string
	database string

	store *artifact.Store
}

// profile is the YAML file given by --profile. Flags and environment
// variables take precedence over its values.
type profile struct {
	Backend string            `yaml:"backend"`
	LLM     model.AgentConfig `yaml:"llm"`
	Gemini  struct {
		Project  string `yaml:"project"`
		Location string `yaml:"location"`
	} `yaml:"gemini"`
	Storage struct {
		Dir             string `yaml:"dir"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		CredentialsFile string `yaml:"credentials_file"`
		FeaturesKey     string `yaml:"features_key"`
		ModelKey        string `yaml:"model_key"`
		PolicyDir       string `yaml:"policy_dir"`
	} `yaml:"storage"`
	History struct {
		Project  string `yaml:"project"`
		Database string `yaml:"database"`
	} `yaml:"history"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("KAPPA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "Path to YAML profile",
			Sources:     cli.EnvVars("KAPPA_PROFILE"),
			Destination: &cfg.profile,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "LLM backend (gemini, openai)",
			Sources:     cli.EnvVars("KAPPA_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "API key of the LLM backend",
			Sources:     cli.EnvVars("KAPPA_API_KEY"),
			Destination: &cfg.agent.Credential,
		},
		&cli.StringFlag{
			Name:        "endpoint",
			Usage:       "Base URL of the LLM backend",
			Sources:     cli.EnvVars("KAPPA_ENDPOINT"),
			Destination: &cfg.agent.Endpoint,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Model name",
			Sources:     cli.EnvVars("KAPPA_MODEL"),
			Destination: &cfg.agent.Model,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("KAPPA_GEMINI_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Sources:     cli.EnvVars("KAPPA_GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// storageFlags returns flags for model artifacts with destination config
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "artifact-dir",
			Usage:       "Local directory of model artifacts",
			Sources:     cli.EnvVars("KAPPA_ARTIFACT_DIR"),
			Destination: &cfg.artifactDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket of model artifacts. Overrides --artifact-dir",
			Sources:     cli.EnvVars("KAPPA_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object prefix in the bucket",
			Sources:     cli.EnvVars("KAPPA_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "credentials-file",
			Usage:       "Google Cloud credentials file",
			Sources:     cli.EnvVars("KAPPA_CREDENTIALS_FILE"),
			Destination: &cfg.credentialsFile,
		},
		&cli.StringFlag{
			Name:        "features-key",
			Usage:       "Key of the feature list",
			Sources:     cli.EnvVars("KAPPA_FEATURES_KEY"),
			Destination: &cfg.featuresKey,
		},
		&cli.StringFlag{
			Name:        "model-key",
			Usage:       "Key of the XGBoost model",
			Sources:     cli.EnvVars("KAPPA_MODEL_KEY"),
			Destination: &cfg.modelKey,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of additional Rego input policies",
			Sources:     cli.EnvVars("KAPPA_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// historyFlags returns flags for conversation history with destination config
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID of Firestore. History is disabled if empty",
			Sources:     cli.EnvVars("KAPPA_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Sources:     cli.EnvVars("KAPPA_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// prepare loads the profile and installs the logger
func (cfg *config) prepare(ctx context.Context) (context.Context, error) {
	logger := logging.New(cfg.logLevel, nil)
	logging.SetDefault(logger)
	ctx = logging.With(ctx, logger)

	if cfg.profile != "" {
		if err := cfg.loadProfile(cfg.profile); err != nil {
			return ctx, err
		}
		logger.Debug("profile loaded", "path", cfg.profile)
	}

	if cfg.backend == "" {
		cfg.backend = backendGemini
	}
	if cfg.geminiLocation == "" {
		cfg.geminiLocation = defaultGeminiLocation
	}
	if cfg.artifactDir == "" {
		cfg.artifactDir = "."
	}
	if cfg.database == "" {
		cfg.database = defaultDatabase
	}

	return ctx, nil
}

func (cfg *config) loadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read profile", goerr.V("path", path))
	}

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return goerr.Wrap(err, "failed to parse profile", goerr.V("path", path))
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.backend, p.Backend)
	fill(&cfg.agent.Credential, p.LLM.Credential)
	fill(&cfg.agent.Endpoint, p.LLM.Endpoint)
	fill(&cfg.agent.Model, p.LLM.Model)
	fill(&cfg.geminiProject, p.Gemini.Project)
	fill(&cfg.geminiLocation, p.Gemini.Location)
	fill(&cfg.artifactDir, p.Storage.Dir)
	fill(&cfg.bucket, p.Storage.Bucket)
	fill(&cfg.prefix, p.Storage.Prefix)
	fill(&cfg.credentialsFile, p.Storage.CredentialsFile)
	fill(&cfg.featuresKey, p.Storage.FeaturesKey)
	fill(&cfg.modelKey, p.Storage.ModelKey)
	fill(&cfg.policyDir, p.Storage.PolicyDir)
	fill(&cfg.project, p.History.Project)
	fill(&cfg.database, p.History.Database)

	return nil
}

// newStorage creates the artifact storage. A bucket wins over the local
// directory.
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return adapter.NewFileStorage(cfg.artifactDir), nil
	}

	var opts []adapter.StorageOption
	if cfg.prefix != "" {
		opts = append(opts, adapter.WithPrefix(cfg.prefix))
	}
	if cfg.credentialsFile != "" {
		opts = append(opts, adapter.WithCredentialsFile(cfg.credentialsFile))
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newArtifactStore creates the model store. It is shared by every agent the
// command builds.
func (cfg *config) newArtifactStore(ctx context.Context) (*artifact.Store, error) {
	if cfg.store != nil {
		return cfg.store, nil
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	var opts []artifact.Option
	if cfg.featuresKey != "" {
		opts = append(opts, artifact.WithFeaturesKey(cfg.featuresKey))
	}
	if cfg.modelKey != "" {
		opts = append(opts, artifact.WithModelKey(cfg.modelKey))
	}

	cfg.store = artifact.NewStore(storage, opts...)
	return cfg.store, nil
}

// newPredictTool creates the prediction tool with the input policy
func (cfg *config) newPredictTool(ctx context.Context) (*predict.Tool, error) {
	store, err := cfg.newArtifactStore(ctx)
	if err != nil {
		return nil, err
	}

	var opts []policy.Option
	if cfg.policyDir != "" {
		opts = append(opts, policy.WithPolicyDir(cfg.policyDir))
	}
	validator, err := policy.New(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create input policy")
	}

	return predict.New(store, validator), nil
}

// newRegistry creates the tool registry exposed to the language model
func (cfg *config) newRegistry(ctx context.Context) (*tool.Registry, error) {
	predictTool, err := cfg.newPredictTool(ctx)
	if err != nil {
		return nil, err
	}
	return tool.New(predictTool, physics.New()), nil
}

// newPlanner creates the planner of the configured backend for agentCfg
func (cfg *config) newPlanner(ctx context.Context, agentCfg model.AgentConfig) (interfaces.Planner, error) {
	switch cfg.backend {
	case backendGemini:
		var opts []adapter.GeminiOption
		if agentCfg.Model != "" {
			opts = append(opts, adapter.WithGenerativeModel(agentCfg.Model))
		}
		if agentCfg.Endpoint != "" {
			opts = append(opts, adapter.WithGeminiBaseURL(agentCfg.Endpoint))
		}
		if cfg.geminiProject != "" {
			opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
		} else if agentCfg.Credential == "" {
			return nil, goerr.New("api-key is required for gemini unless gemini-project is set")
		}

		client, err := adapter.NewGemini(ctx, agentCfg.Credential, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create gemini client")
		}
		return planner.NewGemini(client), nil

	case backendOpenAI:
		if agentCfg.Credential == "" && agentCfg.Endpoint == "" {
			return nil, goerr.New("api-key or endpoint is required for openai")
		}
		var opts []adapter.OpenAIOption
		if agentCfg.Model != "" {
			opts = append(opts, adapter.WithOpenAIModel(agentCfg.Model))
		}
		if agentCfg.Endpoint != "" {
			opts = append(opts, adapter.WithOpenAIBaseURL(agentCfg.Endpoint))
		}
		return planner.NewOpenAI(adapter.NewOpenAI(agentCfg.Credential, opts...)), nil

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newRepository creates the history repository. It returns nil when no
// project is configured.
func (cfg *config) newRepository(ctx context.Context) (*repository.Firestore, error) {
	if cfg.project == "" {
		return nil, nil
	}

	var opts []repository.FirestoreOption
	if cfg.credentialsFile != "" {
		opts = append(opts, repository.WithFirestoreCredentialsFile(cfg.credentialsFile))
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newHistoryStore pairs the repository with the artifact storage, which also
// holds the transcripts
func (cfg *config) newHistoryStore(ctx context.Context, repo repository.Repository) (*chat.HistoryStore, error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	return chat.NewHistoryStore(repo, storage), nil
}
