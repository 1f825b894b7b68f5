package capability

// Set is the capability table built once per process from a doctor
// probe. A nil field means the environment cannot provide that model
// family; the pipeline skips the source instead of failing the job.
type Set struct {
	Objects     ObjectDetector
	Captions    CaptionModel
	OpenVocab   VocabScorer
	Verifier    VocabScorer
	OCR         TextReader
	Transcriber Transcriber
	Embedder    Embedder
}

// NewSet wires the sidecar runner into the table according to what the
// doctor probe found. The verifier rides on the open-vocabulary model.
func NewSet(runner *SidecarRunner, caps *Capabilities) *Set {
	s := &Set{}
	if caps.HasObjects {
		s.Objects = runner
	}
	if caps.HasCaptions {
		s.Captions = runner
	}
	if caps.HasOpenVocab {
		s.OpenVocab = runner
		s.Verifier = runner
	}
	if caps.HasOCR {
		s.OCR = runner
	}
	if caps.HasSpeech {
		s.Transcriber = runner
	}
	if caps.HasEmbeddings {
		s.Embedder = runner
	}
	return s
}
